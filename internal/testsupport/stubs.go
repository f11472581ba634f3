package testsupport

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// Environment variables understood by the ffmpeg stub. Child processes
// inherit them, so tests steer the stub with t.Setenv.
const (
	// EnvFFmpegFail lists space separated targets that exit non-zero: frame
	// sizes such as "1280x720", "thumbnail", or "all".
	EnvFFmpegFail = "STUB_FFMPEG_FAIL"
	// EnvFFmpegSleep delays the stub by the given number of seconds.
	EnvFFmpegSleep = "STUB_FFMPEG_SLEEP"
	// EnvFFmpegLog appends one line per invocation with the arguments.
	EnvFFmpegLog = "STUB_FFMPEG_LOG"
	// EnvFFmpegFrame is the PNG copied to the requested frame output path.
	EnvFFmpegFrame = "STUB_FFMPEG_FRAME"
	// EnvFFmpegSkipOutput makes the stub exit 0 without writing anything.
	EnvFFmpegSkipOutput = "STUB_FFMPEG_SKIP_OUTPUT"
	// EnvFFprobeDuration is the duration ffprobe reports (default 60).
	EnvFFprobeDuration = "STUB_FFPROBE_DURATION"
)

const ffmpegStub = `#!/bin/sh
if [ -n "$STUB_FFMPEG_LOG" ]; then
  echo "$*" >> "$STUB_FFMPEG_LOG"
fi
if [ -n "$STUB_FFMPEG_SLEEP" ]; then
  sleep "$STUB_FFMPEG_SLEEP"
fi
target=""
prev=""
out=""
for arg in "$@"; do
  if [ "$prev" = "-s" ]; then target="$arg"; fi
  if [ "$arg" = "-frames:v" ]; then target="thumbnail"; fi
  prev="$arg"
  out="$arg"
done
if [ -n "$STUB_FFMPEG_FAIL" ]; then
  case " $STUB_FFMPEG_FAIL " in
    *" $target "*|*" all "*)
      echo "stub encoder failure for $target" >&2
      exit 1
      ;;
  esac
fi
if [ -n "$STUB_FFMPEG_SKIP_OUTPUT" ]; then
  exit 0
fi
case "$out" in
  *.m3u8)
    dir=$(dirname "$out")
    printf 'segment0' > "$dir/index0.ts"
    printf 'segment1' > "$dir/index1.ts"
    printf '#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nindex0.ts\n#EXTINF:4.0,\nindex1.ts\n#EXT-X-ENDLIST\n' > "$out"
    ;;
  *.png)
    if [ -n "$STUB_FFMPEG_FRAME" ]; then
      cp "$STUB_FFMPEG_FRAME" "$out"
    fi
    ;;
esac
exit 0
`

const ffprobeStub = `#!/bin/sh
duration="${STUB_FFPROBE_DURATION:-60}"
printf '{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":1920,"height":1080},{"index":1,"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"%s"}}\n' "$duration"
`

// InstallStubs writes the ffmpeg and ffprobe stubs plus trivial stubs for
// extra names into dir, prepends dir to PATH for the test, and points the
// ffmpeg stub at a generated frame. It returns dir.
func InstallStubs(t testing.TB, dir string, extra ...string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	WriteScript(t, filepath.Join(dir, "ffmpeg"), ffmpegStub)
	WriteScript(t, filepath.Join(dir, "ffprobe"), ffprobeStub)
	for _, name := range extra {
		WriteScript(t, filepath.Join(dir, name), "#!/bin/sh\nexit 0\n")
	}

	frame := filepath.Join(dir, "frame.png")
	WritePNG(t, frame, 1920, 1080)
	t.Setenv(EnvFFmpegFrame, frame)
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return dir
}

// WriteScript writes an executable shell script.
func WriteScript(t testing.TB, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

// WritePNG writes a solid-colour PNG of the given size.
func WritePNG(t testing.TB, path string, width, height int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	fill := color.NRGBA{R: 0x20, G: 0x60, B: 0xa0, A: 0xff}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
