// Package http is the read side of a transfer: a client for sources that
// serve an object over HTTP and honour byte range requests.
//
// The client does not retry. Callers decide which failures are worth another
// attempt.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size is -1 when the server sends no Content-Length
//
//	// Read from an offset to the end of the object
//	resp, err := client.GetRange(ctx, url, offset, -1)
//	defer resp.Body.Close()
//	// resp.TotalSize comes from Content-Range when the server sends one
package http
