// Package domain declares the history records and ports
package domain

// Record is one remembered pull request
type Record struct {
	ID     int64  `json:"-"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Merged bool   `json:"merged"`
}
