// Command vidpipe runs the transcoding daemon and inspects or drives its
// queue.
//
// Commands other than serve open the queue database directly. Uploads and
// deletions issued from the CLI run the same event contract the daemon
// serves; a running daemon picks up CLI-enqueued jobs on its next poll.
package main
