// Package progress renders transfer progress as a terminal bar.
//
// A Reporter starts at the byte offset a transfer resumes from, so a resumed
// run shows the whole object and not just the remainder.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize: totalBytes,
//	    Initial:   resumeOffset,
//	    Name:      "dataset.tar",
//	    Output:    os.Stderr,
//	})
//	defer reporter.Close()
//
//	reporter.Skip(n)    // bytes already in the destination
//	reporter.Advance(n) // bytes uploaded in this run
//
// # Output Format
//
//	dataset.tar  1.13 GiB / 2.50 GiB [=====>------] 45.2 % 112.40 MiB/s 12s
package progress
