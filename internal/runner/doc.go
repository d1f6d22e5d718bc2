// Package runner executes ffmpeg and ffprobe as supervised child
// processes.
//
// Argument vectors are built from allow-listed tables keyed by operation
// and format; user-supplied strings never appear on the command line.
// Input always arrives on the child's stdin (pipe:0) and output leaves
// on stdout (pipe:1), so the runner needs no knowledge of file layout.
//
// On deadline expiry the child receives SIGTERM and, after a grace
// interval, SIGKILL. Failures are classified into the faults taxonomy:
// deadline expiry beats exit status, and stream errors beat both, since
// a killed or starved child always exits non-zero.
package runner
