package detect

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"gocv.io/x/gocv"
)

// Shutdown escalation bounds for the inference subprocess.
const (
	serviceWaitTimeout = time.Second
	serviceKillTimeout = 500 * time.Millisecond
)

// ServiceDetector implements Detector by driving an external inference
// service subprocess. Frames go out as length-prefixed JPEG on stdin; each
// reply is one JSON line of boxes on stdout. The process is started lazily
// on the first call.
type ServiceDetector struct {
	command []string
	config  Config

	mu     sync.Mutex // serializes inference I/O
	stdin  io.WriteCloser
	stdout *bufio.Reader

	// procMu guards the child process lifecycle and is never held across
	// inference I/O, so Close can escalate all the way to SIGKILL even
	// while a Detect call sits blocked on the reply pipe.
	procMu  sync.Mutex
	cmd     *exec.Cmd
	started bool
	closed  bool
}

// NewServiceDetector creates a detector that runs the given command, e.g.
// {"python3", "scripts/eye_service.py"}. The inference parameters are passed
// as flags when the process starts.
func NewServiceDetector(command []string, config Config) (*ServiceDetector, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("detector service command is empty")
	}
	return &ServiceDetector{command: command, config: config}, nil
}

// Detect sends the image to the service and returns the decoded boxes.
func (d *ServiceDetector) Detect(img gocv.Mat) ([]Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Boxes []Box `json:"boxes"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return response.Boxes, nil
}

// Close shuts the service down, escalating from a clean stdin close to
// SIGTERM and finally SIGKILL if the process will not exit. It never waits
// on the inference mutex: a Detect call stuck on a reply is unblocked by the
// kill tearing the pipe down. Safe to call more than once; the detector is
// unusable afterwards.
func (d *ServiceDetector) Close() error {
	d.procMu.Lock()
	defer d.procMu.Unlock()

	d.closed = true
	if !d.started {
		return nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(serviceWaitTimeout):
		d.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err = <-done:
		case <-time.After(serviceKillTimeout):
			d.cmd.Process.Kill()
			err = <-done
		}
	}

	d.started = false
	d.cmd = nil
	return err
}

func (d *ServiceDetector) ensureStarted() error {
	d.procMu.Lock()
	defer d.procMu.Unlock()

	if d.closed {
		return fmt.Errorf("detector service is closed")
	}
	if d.started {
		return nil
	}

	args := append([]string(nil), d.command[1:]...)
	args = append(args,
		"--conf", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--iou", strconv.FormatFloat(d.config.IOUThreshold, 'f', -1, 64),
		"--max-det", strconv.Itoa(d.config.MaxDetections),
	)
	cmd := exec.Command(d.command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detector service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	return nil
}
