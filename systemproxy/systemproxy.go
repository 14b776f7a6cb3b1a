// Package systemproxy registers the proxy as the OS system proxy. This is
// platform glue over shell-outs; unsupported platforms report
// supported=false.
package systemproxy

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// ErrUnsupported is returned on platforms without an implementation.
var ErrUnsupported = errors.New("systemproxy: unsupported platform")

// Status describes the OS proxy registration.
type Status struct {
	Supported bool   `json:"supported"`
	Enabled   bool   `json:"enabled"`
	OS        string `json:"os"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
}

func run(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("systemproxy: %s", msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// Get reports the current system proxy state.
func Get() (Status, error) {
	switch runtime.GOOS {
	case "darwin":
		return getDarwin()
	case "linux":
		return getLinux()
	case "windows":
		return getWindows()
	}
	return Status{OS: runtime.GOOS}, nil
}

// Enable points the OS web proxy at host:port.
func Enable(host string, port int) error {
	switch runtime.GOOS {
	case "darwin":
		return enableDarwin(host, port)
	case "linux":
		return enableLinux(host, port)
	case "windows":
		return enableWindows(host, port)
	}
	return ErrUnsupported
}

// Disable removes the OS web proxy registration.
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		return disableDarwin()
	case "linux":
		return disableLinux()
	case "windows":
		return disableWindows()
	}
	return ErrUnsupported
}

// macOS: networksetup per network service

func darwinServices() ([]string, error) {
	out, err := run("networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, err
	}
	var services []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "An asterisk") || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services, nil
}

func getDarwin() (Status, error) {
	status := Status{Supported: true, OS: "darwin"}
	services, err := darwinServices()
	if err != nil {
		return status, err
	}
	for _, service := range services {
		out, err := run("networksetup", "-getwebproxy", service)
		if err != nil {
			continue
		}
		info := make(map[string]string)
		for _, line := range strings.Split(out, "\n") {
			if key, value, ok := strings.Cut(line, ":"); ok {
				info[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
			}
		}
		if strings.EqualFold(info["enabled"], "yes") {
			status.Enabled = true
			status.Host = info["server"]
			status.Port, _ = strconv.Atoi(info["port"])
			break
		}
	}
	return status, nil
}

func enableDarwin(host string, port int) error {
	services, err := darwinServices()
	if err != nil {
		return err
	}
	for _, service := range services {
		if _, err := run("networksetup", "-setwebproxy", service, host, strconv.Itoa(port)); err != nil {
			return err
		}
		if _, err := run("networksetup", "-setsecurewebproxy", service, host, strconv.Itoa(port)); err != nil {
			return err
		}
		if _, err := run("networksetup", "-setwebproxystate", service, "on"); err != nil {
			return err
		}
		if _, err := run("networksetup", "-setsecurewebproxystate", service, "on"); err != nil {
			return err
		}
	}
	return nil
}

func disableDarwin() error {
	services, err := darwinServices()
	if err != nil {
		return err
	}
	for _, service := range services {
		if _, err := run("networksetup", "-setwebproxystate", service, "off"); err != nil {
			return err
		}
		if _, err := run("networksetup", "-setsecurewebproxystate", service, "off"); err != nil {
			return err
		}
	}
	return nil
}

// Linux: GNOME gsettings

func getLinux() (Status, error) {
	status := Status{Supported: true, OS: "linux"}
	mode, err := run("gsettings", "get", "org.gnome.system.proxy", "mode")
	if err != nil {
		return Status{OS: "linux"}, nil
	}
	status.Enabled = strings.Contains(mode, "manual")
	if status.Enabled {
		if host, err := run("gsettings", "get", "org.gnome.system.proxy.http", "host"); err == nil {
			status.Host = strings.Trim(host, "'")
		}
		if port, err := run("gsettings", "get", "org.gnome.system.proxy.http", "port"); err == nil {
			status.Port, _ = strconv.Atoi(port)
		}
	}
	return status, nil
}

func enableLinux(host string, port int) error {
	steps := [][]string{
		{"set", "org.gnome.system.proxy.http", "host", host},
		{"set", "org.gnome.system.proxy.http", "port", strconv.Itoa(port)},
		{"set", "org.gnome.system.proxy.https", "host", host},
		{"set", "org.gnome.system.proxy.https", "port", strconv.Itoa(port)},
		{"set", "org.gnome.system.proxy", "mode", "manual"},
	}
	for _, args := range steps {
		if _, err := run("gsettings", args...); err != nil {
			return err
		}
	}
	return nil
}

func disableLinux() error {
	_, err := run("gsettings", "set", "org.gnome.system.proxy", "mode", "none")
	return err
}

// Windows: netsh winhttp

func getWindows() (Status, error) {
	status := Status{Supported: true, OS: "windows"}
	out, err := run("netsh", "winhttp", "show", "proxy")
	if err != nil {
		return status, err
	}
	if strings.Contains(out, "Direct access") {
		return status, nil
	}
	for _, line := range strings.Split(out, "\n") {
		if _, value, ok := strings.Cut(line, "Proxy Server(s)"); ok {
			value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), ":"))
			if host, portStr, ok := strings.Cut(value, ":"); ok {
				status.Enabled = true
				status.Host = host
				status.Port, _ = strconv.Atoi(portStr)
			}
		}
	}
	return status, nil
}

func enableWindows(host string, port int) error {
	_, err := run("netsh", "winhttp", "set", "proxy", fmt.Sprintf("%s:%d", host, port))
	return err
}

func disableWindows() error {
	_, err := run("netsh", "winhttp", "reset", "proxy")
	return err
}
