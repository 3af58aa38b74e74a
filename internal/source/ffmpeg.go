package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"
)

// ffmpegRTSPConn pulls raw frames from an RTSP stream via an FFmpeg
// subprocess, generalizing the teacher's captureFFmpeg RTSP branch
// (internal/pipeline/frame_provider.go) from MJPEG chunks to fixed-size raw
// video frames, matching the Encoder Sink's "-f rawvideo" input contract.
type ffmpegRTSPConn struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	frameSize int
}

// FFmpegDialer opens RTSP pull connections via FFmpeg subprocesses. Width
// and Height fix the raw frame byte layout (bgr24: 3 bytes/pixel); FPS
// paces the capture.
type FFmpegDialer struct {
	Width, Height, FPS int
	Logger             zerolog.Logger
}

func (d FFmpegDialer) Dial(ctx context.Context, pullURL string) (RTSPConn, error) {
	args := []string{
		"-rtsp_transport", "tcp",
		"-i", pullURL,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", d.Width, d.Height),
		"-r", fmt.Sprintf("%d", d.FPS),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
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

	go drainStderr(stderr, d.Logger)

	return &ffmpegRTSPConn{
		cmd:       cmd,
		stdout:    stdout,
		frameSize: d.Width * d.Height * 3,
	}, nil
}

func (c *ffmpegRTSPConn) ReadFrame() ([]byte, error) {
	buf := make([]byte, c.frameSize)
	if _, err := io.ReadFull(c.stdout, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *ffmpegRTSPConn) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

// ffmpegV4L2Device reads raw frames from a USB-attached camera via FFmpeg's
// v4l2 input, generalizing the teacher's captureFFmpeg V4L2 branch. A
// background goroutine fills a bounded channel so TryReadFrame can be
// non-blocking, matching the depth-camera SDK's polling-queue contract.
type ffmpegV4L2Device struct {
	devicePath  string
	width       int
	height      int
	fps         int
	logger      zerolog.Logger
	cmd         *exec.Cmd
	frames      chan []byte
	readErr     chan struct{}
}

// NewFFmpegV4L2Device constructs a LocalDevice backed by an FFmpeg V4L2
// capture of the given device path (e.g. "/dev/video0").
func NewFFmpegV4L2Device(devicePath string, width, height, fps int, logger zerolog.Logger) LocalDevice {
	return &ffmpegV4L2Device{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
		logger:     logger,
	}
}

func (d *ffmpegV4L2Device) Open(ctx context.Context) error {
	args := []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", d.width, d.height),
		"-framerate", fmt.Sprintf("%d", d.fps),
		"-i", d.devicePath,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	d.cmd = cmd
	d.frames = make(chan []byte, 4)
	d.readErr = make(chan struct{})

	go drainStderr(stderr, d.logger)
	go d.fill(stdout)
	return nil
}

func (d *ffmpegV4L2Device) fill(stdout io.ReadCloser) {
	defer close(d.readErr)
	frameSize := d.width * d.height * 3
	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			return
		}
		select {
		case d.frames <- buf:
		default:
			// queue full: drop the oldest-pending frame, matching the
			// depth-camera SDK's maxSize=4 drop-oldest queue.
			select {
			case <-d.frames:
			default:
			}
			d.frames <- buf
		}
	}
}

func (d *ffmpegV4L2Device) TryReadFrame() ([]byte, bool) {
	select {
	case frame := <-d.frames:
		return frame, true
	default:
		return nil, false
	}
}

func (d *ffmpegV4L2Device) Close() error {
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		return d.cmd.Wait()
	}
	return nil
}

func drainStderr(r io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug().Str("component", "ffmpeg").Msg(scanner.Text())
	}
}
