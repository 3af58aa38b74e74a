package sink

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"restreamer/internal/profile"
)

// FFmpegEncoder spawns an FFmpeg subprocess per spec.md §6: H.264,
// ultrafast/zerolatency, one keyframe per second, Annex-B, audio disabled,
// RTP output — generalizing src/handlers/streamerFFmpegRTPS.py's
// _start_ffmpeg_process. Raw input is read at the source's native capture
// resolution; a scale filter adapts it to the current profile so a hot
// profile swap never requires renegotiating the capture's byte layout.
type FFmpegEncoder struct {
	Logger zerolog.Logger
}

func (e FFmpegEncoder) Spawn(p profile.EncodingProfile, endpoint string, captureWidth, captureHeight int) (EncoderProc, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", captureWidth, captureHeight),
		"-r", fmt.Sprintf("%d", p.FPS),
		"-i", "-",
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-b:v", fmt.Sprintf("%dk", p.BitrateKbps),
		"-r", fmt.Sprintf("%d", p.FPS),
		"-x264-params", fmt.Sprintf("keyint=%d:scenecut=0:insert-vui=1", p.FPS),
		"-bsf:v", "h264_mp4toannexb",
		"-f", "rtp",
		fmt.Sprintf("rtp://%s", endpoint),
	}

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			e.Logger.Debug().Str("component", "ffmpeg-sink").Msg(scanner.Text())
		}
	}()

	return &ffmpegProc{cmd: cmd, stdin: stdin}, nil
}

type ffmpegProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *ffmpegProc) Write(frame []byte) error {
	_, err := p.stdin.Write(frame)
	return err
}

// Close flushes stdin, waits briefly for a clean exit, and force-terminates
// if the process is still running — matching streamerFFmpegRTPS.py's close().
func (p *ffmpegProc) Close() error {
	_ = p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(500 * time.Millisecond):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		return fmt.Errorf("ffmpeg process did not exit after kill")
	}
}
