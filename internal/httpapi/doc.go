// Package httpapi exposes the alarm and audio management REST API.
package httpapi
