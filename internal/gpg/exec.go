package gpg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
)

// Executor runs an external command, feeding stdin when it is non-nil
type Executor interface {
	Execute(ctx context.Context, stdin io.Reader, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

// RealExecutor runs commands with os/exec
type RealExecutor struct{}

// Execute runs name with args
func (RealExecutor) Execute(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, []byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, nil, vperrors.UserError{
			Message:    fmt.Sprintf("%s not found", name),
			Suggestion: "Install GnuPG, or export the secret key to secring.asc in the keyring home",
			Err:        err,
		}
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor returns the os/exec backed executor
func DefaultExecutor() Executor {
	return RealExecutor{}
}

func hasAgentKeys(home string) bool {
	info, err := os.Stat(filepath.Join(home, AgentKeyDir))
	return err == nil && info.IsDir()
}

// decryptWithGPG hands the ciphertext to gpg using home as its homedir.
// A passphrase from the environment is passed over stdin in loopback
// mode; otherwise gpg-agent asks for it.
func (d *Decrypter) decryptWithGPG(ctx context.Context, home, cipherPath string) ([]byte, error) {
	args := []string{"--homedir", home, "--batch", "--quiet", "--no-tty"}
	var stdin io.Reader
	if p := os.Getenv(PassphraseEnv); p != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-fd", "0")
		stdin = strings.NewReader(p + "\n")
	}
	args = append(args, "--decrypt", cipherPath)

	stdout, stderr, err := d.executor.Execute(ctx, stdin, "gpg", args...)
	if err != nil {
		var ue vperrors.UserError
		if errors.As(err, &ue) {
			return nil, err
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("gpg: %s", msg)
	}
	return stdout, nil
}
