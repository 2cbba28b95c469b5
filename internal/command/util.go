package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stolasapp/framecast/internal/config"
	"github.com/stolasapp/framecast/internal/storage"
)

const shortRevision = 12

type configKey struct{}

// promptPassword asks for the password of username. Input is masked when
// stdin is a terminal.
func promptPassword(cmd *cobra.Command, username string) (string, error) {
	return prompt(cmd, fmt.Sprintf("password for %s: ", username), true)
}

// confirm asks a yes/no question. Anything other than "y" is a no.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	answer, err := prompt(cmd, question+" [y|N] ", false)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}

// prompt writes msg to stderr when stdin is a terminal and reads one line.
func prompt(cmd *cobra.Command, msg string, mask bool) (string, error) {
	in := cmd.InOrStdin()
	file, isFile := in.(*os.File)
	tty := isFile && term.IsTerminal(int(file.Fd()))
	if tty {
		if _, err := io.WriteString(cmd.ErrOrStderr(), msg); err != nil {
			return "", err
		}
	}
	if mask && tty {
		defer func() { _, _ = io.WriteString(cmd.ErrOrStderr(), "\n") }()
		line, err := term.ReadPassword(int(file.Fd()))
		return string(line), err
	}
	return readLine(in)
}

// readLine reads up to a newline one byte at a time, so input after the
// newline stays unread for the next prompt. A trailing CR is dropped and a
// backspace removes the previous byte.
func readLine(r io.Reader) (string, error) {
	var buf [1]byte
	var line []byte
	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			switch buf[0] {
			case '\n':
				return strings.TrimSuffix(string(line), "\r"), nil
			case '\b':
				if len(line) > 0 {
					line = line[:len(line)-1]
				}
			default:
				line = append(line, buf[0])
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return strings.TrimSuffix(string(line), "\r"), nil
			}
			return string(line), err
		}
	}
}

// version describes the build: the module version, the short VCS revision
// and a -dirty suffix for modified trees.
func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown-dev"
	}
	return buildVersion(info)
}

func buildVersion(info *debug.BuildInfo) string {
	settings := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	ver := info.Main.Version
	if ver == "" || ver == "(devel)" {
		ver = "devel"
	}
	if rev := settings["vcs.revision"]; rev != "" {
		ver += "+" + rev[:min(len(rev), shortRevision)]
	}
	if settings["vcs.modified"] == "true" {
		ver += "-dirty"
	}
	return ver
}

func loadConfig(ctx context.Context) (*config.Config, *slog.Logger, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok {
		return nil, nil, errors.New("config file resolution failed")
	}
	return cfg, slog.Default(), nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.File, error) {
	return storage.NewFile(ctx, cfg.LoginFile, cfg.KeyFile, logger.With(slog.String("file", cfg.LoginFile)))
}
