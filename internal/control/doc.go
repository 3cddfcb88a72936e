// Package control is the application service behind every management
// surface: it validates and persists alarms, keeps the scheduler in sync
// with the store, and answers upcoming-window queries. HTTP handlers stay
// thin by delegating here.
package control
