// Package audio manages the library of playable clips referenced by alarms
// and the external process that plays them. The repository runs on an
// abstract filesystem so tests never touch the disk.
package audio
