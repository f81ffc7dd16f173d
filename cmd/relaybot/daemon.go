package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// service is a user-level unit that runs 'relaybot run'.
type service struct {
	path     string            // unit file location
	template string            // unit file body with {{KEY}} placeholders
	vars     map[string]string // placeholder values
	hints    []string          // commands printed after install
}

// userService describes the unit for the current platform.
func userService(execPath, cfgPath string) (*service, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		const label = "com.relaybot.relay"
		path := filepath.Join(home, "Library", "LaunchAgents", label+".plist")
		logDir := filepath.Join(home, ".relaybot", "logs")
		return &service{
			path:     path,
			template: launchdTemplate,
			vars: map[string]string{
				"LABEL":   label,
				"EXEC":    execPath,
				"CONFIG":  cfgPath,
				"LOG":     filepath.Join(logDir, "relaybot.out.log"),
				"ERR_LOG": filepath.Join(logDir, "relaybot.err.log"),
			},
			hints: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
		}, nil
	case "linux":
		return &service{
			path:     filepath.Join(home, ".config", "systemd", "user", "relaybot.service"),
			template: systemdTemplate,
			vars:     map[string]string{"EXEC": execPath, "CONFIG": cfgPath},
			hints: []string{
				"To start:  systemctl --user start relaybot",
				"To enable: systemctl --user enable relaybot",
				"To follow: journalctl --user -u relaybot -f",
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func (s *service) render() string {
	out := s.template
	for k, v := range s.vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func (s *service) install() error {
	if log, ok := s.vars["LOG"]; ok {
		if err := os.MkdirAll(filepath.Dir(log), 0o755); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(s.render()), 0o644)
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the relaybot background service (launchd/systemd)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install relaybot as a user service",
		Long:  "Writes a service file that runs 'relaybot run' on login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentService()
			if err != nil {
				return err
			}
			if err := svc.install(); err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n", svc.path)
			for _, h := range svc.hints {
				fmt.Println(h)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relaybot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentService()
			if err != nil {
				return err
			}
			if err := os.Remove(svc.path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", svc.path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the service file is installed and current",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := currentService()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(svc.path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				fmt.Printf("Not installed (%s)\n", svc.path)
			case err != nil:
				return err
			case string(data) != svc.render():
				fmt.Printf("Installed but outdated: %s\nRun 'relaybot daemon install' to update it.\n", svc.path)
			default:
				fmt.Printf("Installed: %s\n", svc.path)
			}
			return nil
		},
	})

	return cmd
}

func currentService() (*service, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot determine executable path: %w", err)
	}
	return userService(execPath, resolveConfigPath())
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>ExitTimeOut</key>
    <integer>30</integer>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

// TimeoutStopSec leaves room for the queue drain and final snapshot.
const systemdTemplate = `[Unit]
Description=relaybot Discord to Telegram relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=30

[Install]
WantedBy=default.target`
