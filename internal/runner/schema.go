package runner

import (
	"fmt"

	"media-jobd/internal/faults"
)

// Supported operations.
const (
	OpTranscode = "transcode"
	OpProbe     = "probe"
	OpThumbnail = "thumbnail"
)

// Request holds the validated parameters for one child process invocation.
// The argument vector is always derived from these fields through the
// allow-listed tables below; raw user strings never reach the command line.
type Request struct {
	Operation string  `json:"operation"`
	Format    string  `json:"format,omitempty"`
	Bitrate   int     `json:"bitrate,omitempty"` // audio bitrate in kbit/s
	Width     int     `json:"width,omitempty"`   // target width, height keeps aspect
	Seek      float64 `json:"seek,omitempty"`    // thumbnail frame offset in seconds
}

type formatSpec struct {
	muxer       string
	audioCodec  string
	videoCodec  string
	extraArgs   []string
	contentType string
	video       bool
}

var transcodeFormats = map[string]formatSpec{
	"mp3":  {muxer: "mp3", audioCodec: "libmp3lame", contentType: "audio/mpeg"},
	"aac":  {muxer: "adts", audioCodec: "aac", contentType: "audio/aac"},
	"opus": {muxer: "ogg", audioCodec: "libopus", contentType: "audio/ogg"},
	"mp4": {
		muxer: "mp4", audioCodec: "aac", videoCodec: "libx264",
		extraArgs:   []string{"-preset", "fast", "-crf", "23", "-movflags", "frag_keyframe+empty_moov+faststart"},
		contentType: "video/mp4", video: true,
	},
	"webm": {
		muxer: "webm", audioCodec: "libopus", videoCodec: "libvpx-vp9",
		extraArgs:   []string{"-crf", "33", "-b:v", "0"},
		contentType: "video/webm", video: true,
	},
}

const (
	minBitrate = 32
	maxBitrate = 1024
	minWidth   = 16
	maxWidth   = 7680
	maxSeek    = 86400
)

// Validate checks a request against the operation schema. Unknown
// operations, unknown formats, and out-of-range numeric parameters are
// rejected with a ValidationError fault.
func Validate(req Request) error {
	switch req.Operation {
	case OpTranscode:
		spec, ok := transcodeFormats[req.Format]
		if !ok {
			return faults.New(faults.KindValidation, "unknown transcode format %q", req.Format)
		}
		if req.Bitrate != 0 && (req.Bitrate < minBitrate || req.Bitrate > maxBitrate) {
			return faults.New(faults.KindValidation, "bitrate %d out of range [%d,%d]", req.Bitrate, minBitrate, maxBitrate)
		}
		if req.Width != 0 {
			if !spec.video {
				return faults.New(faults.KindValidation, "width not applicable to audio format %q", req.Format)
			}
			if req.Width < minWidth || req.Width > maxWidth {
				return faults.New(faults.KindValidation, "width %d out of range [%d,%d]", req.Width, minWidth, maxWidth)
			}
		}
		if req.Seek != 0 {
			return faults.New(faults.KindValidation, "seek not applicable to transcode")
		}
		return nil

	case OpProbe:
		if req.Format != "" || req.Bitrate != 0 || req.Width != 0 || req.Seek != 0 {
			return faults.New(faults.KindValidation, "probe accepts no parameters")
		}
		return nil

	case OpThumbnail:
		if req.Format != "" {
			return faults.New(faults.KindValidation, "thumbnail output is always jpeg")
		}
		if req.Bitrate != 0 {
			return faults.New(faults.KindValidation, "bitrate not applicable to thumbnail")
		}
		if req.Width != 0 && (req.Width < minWidth || req.Width > maxWidth) {
			return faults.New(faults.KindValidation, "width %d out of range [%d,%d]", req.Width, minWidth, maxWidth)
		}
		if req.Seek < 0 || req.Seek > maxSeek {
			return faults.New(faults.KindValidation, "seek %.3f out of range [0,%d]", req.Seek, maxSeek)
		}
		return nil

	default:
		return faults.New(faults.KindValidation, "unknown operation %q", req.Operation)
	}
}

// Args builds the deterministic argument vector for a validated request.
// Input is read from the child's stdin and output written to its stdout.
func (r Request) Args() []string {
	switch r.Operation {
	case OpProbe:
		return []string{
			"-v", "quiet",
			"-print_format", "json",
			"-show_format",
			"-show_streams",
			"pipe:0",
		}

	case OpThumbnail:
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprintf("%.3f", r.Seek),
			"-i", "pipe:0",
			"-frames:v", "1",
		}
		if r.Width > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", r.Width))
		}
		return append(args, "-f", "image2pipe", "-c:v", "mjpeg", "pipe:1")

	default: // OpTranscode
		spec := transcodeFormats[r.Format]
		args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}

		if spec.video {
			args = append(args, "-c:v", spec.videoCodec)
			args = append(args, spec.extraArgs...)
			if r.Width > 0 {
				args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", r.Width))
			}
		} else {
			args = append(args, "-vn")
		}

		args = append(args, "-c:a", spec.audioCodec)
		if r.Bitrate > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%dk", r.Bitrate))
		}

		return append(args, "-f", spec.muxer, "pipe:1")
	}
}

// Binary returns the logical binary name the request runs against.
func (r Request) Binary() string {
	if r.Operation == OpProbe {
		return "ffprobe"
	}
	return "ffmpeg"
}

// ContentType returns the media type of the operation's output.
func (r Request) ContentType() string {
	switch r.Operation {
	case OpProbe:
		return "application/json"
	case OpThumbnail:
		return "image/jpeg"
	default:
		return transcodeFormats[r.Format].contentType
	}
}

// Formats lists the supported transcode output formats, for documentation
// and validation error messages.
func Formats() []string {
	out := make([]string, 0, len(transcodeFormats))
	for name := range transcodeFormats {
		out = append(out, name)
	}
	return out
}
