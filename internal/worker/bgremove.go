package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// BackgroundRemover strips the background from a selfie and returns PNG bytes.
type BackgroundRemover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
}

// CommandRemover runs a rembg-style script that takes the input path as its
// first argument, followed by optional script arguments such as the model
// name. The selfie is written to a temp file whose path replaces an
// {input} argument when one is present, otherwise it goes right after the
// script path. The script prints {"success":bool,"data":base64,"error":string}
// on stdout.
type CommandRemover struct {
	name    string
	args    []string
	timeout time.Duration
}

// NewCommandRemover splits command on whitespace. It returns nil for an
// empty command.
func NewCommandRemover(command string, timeout time.Duration) *CommandRemover {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CommandRemover{name: fields[0], args: fields[1:], timeout: timeout}
}

type removerReply struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
	Error   string `json:"error"`
}

func (r *CommandRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("background removal: empty input")
	}
	f, err := os.CreateTemp("", "selfie-*")
	if err != nil {
		return nil, fmt.Errorf("background removal: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("background removal: write input: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("background removal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, r.name, removerArgs(r.name, r.args, f.Name())...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("background removal failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseRemoverOutput(stdout.Bytes())
}

const inputPlaceholder = "{input}"

// removerArgs places the input path. "python3 -u remove.py u2net" becomes
// "python3 -u remove.py <path> u2net"; "./remove.py u2net" becomes
// "./remove.py <path> u2net". A command with no script path gets the input
// appended.
func removerArgs(name string, args []string, input string) []string {
	out := make([]string, 0, len(args)+1)
	out = append(out, args...)
	for i, a := range out {
		if a == inputPlaceholder {
			out[i] = input
			return out
		}
	}
	at := len(out)
	if filepath.Ext(name) != "" {
		at = 0
	} else {
		for i, a := range out {
			if !strings.HasPrefix(a, "-") && filepath.Ext(a) != "" {
				at = i + 1
				break
			}
		}
	}
	out = append(out, "")
	copy(out[at+1:], out[at:])
	out[at] = input
	return out
}

func parseRemoverOutput(out []byte) ([]byte, error) {
	// scripts may print progress before the JSON line
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	var reply removerReply
	if err := json.Unmarshal(last, &reply); err != nil {
		return nil, fmt.Errorf("background removal: decode output: %w", err)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("background removal: %s", msg)
	}
	img, err := base64.StdEncoding.DecodeString(reply.Data)
	if err != nil {
		return nil, fmt.Errorf("background removal: decode image: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("background removal: empty image")
	}
	return img, nil
}
