// Package loader sequences the pipeline for one locator: memory cache, disk
// cache (fetching and saving on a miss, deduplicated per locator), decode with
// out-of-memory retries, and exactly one terminal listener notification.
package loader
