package sshconn

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// HostEntry describes one alias in the hosts file.
type HostEntry struct {
	Hostname     string `yaml:"hostname"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	IdentityFile string `yaml:"identity_file"`
}

// Hosts maps alias names to connection details.
type Hosts map[string]HostEntry

type hostsFile struct {
	Hosts Hosts `yaml:"hosts"`
}

// LoadHosts reads a YAML hosts file of the form:
//
//	hosts:
//	  web:
//	    hostname: 10.0.0.5
//	    port: 2222
//	    user: deploy
//	    identity_file: ~/.ssh/deploy_ed25519
//
// A missing file yields an empty set.
func LoadHosts(path string) (Hosts, error) {
	if path == "" {
		return Hosts{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Hosts{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return ParseHosts(data)
}

// ParseHosts decodes hosts file content and validates each entry.
func ParseHosts(data []byte) (Hosts, error) {
	var f hostsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hosts file: %w", err)
	}
	if f.Hosts == nil {
		return Hosts{}, nil
	}
	for alias, h := range f.Hosts {
		if h.Hostname == "" {
			return nil, fmt.Errorf("hosts file: alias %q has no hostname", alias)
		}
		if h.Port < 0 || h.Port > 65535 {
			return nil, fmt.Errorf("hosts file: alias %q has invalid port %d", alias, h.Port)
		}
		if h.IdentityFile != "" {
			p, err := homedir.Expand(h.IdentityFile)
			if err != nil {
				return nil, fmt.Errorf("hosts file: alias %q: %w", alias, err)
			}
			h.IdentityFile = p
			f.Hosts[alias] = h
		}
	}
	return f.Hosts, nil
}
