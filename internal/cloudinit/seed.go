// Package cloudinit generates NoCloud seed ISOs for runner VMs.
//
// Base images usually bake the runner's public key into the build account.
// For images that don't, the create verb can attach a seed ISO that injects
// the key through cloud-init on first boot.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/kdomanski/iso9660"
	"gopkg.in/yaml.v3"
)

// Seed describes the first-boot provisioning of a runner VM.
type Seed struct {
	// InstanceID becomes the cloud-init instance-id. Using the VM name
	// keeps cloud-init from re-running provisioning on a same-identity
	// redefine.
	InstanceID string

	// User is the unprivileged build account receiving the key.
	User string

	// AuthorizedKey is the runner's public key in authorized_keys format.
	AuthorizedKey string
}

// userData is the cloud-config user-data structure, marshaled to YAML and
// prefixed with the "#cloud-config" header.
type userData struct {
	Hostname string       `yaml:"hostname"`
	Users    []userConfig `yaml:"users"`
}

type userConfig struct {
	Name              string   `yaml:"name"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
	Shell             string   `yaml:"shell"`
}

// metaData is the NoCloud meta-data structure.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// GenerateUserData generates the user-data file content.
func GenerateUserData(s Seed) (string, error) {
	if s.AuthorizedKey == "" {
		return "", fmt.Errorf("authorized key is required")
	}
	if s.User == "" {
		return "", fmt.Errorf("user is required")
	}

	ud := userData{
		Hostname: s.InstanceID,
		Users: []userConfig{
			{
				Name:              s.User,
				SSHAuthorizedKeys: []string{strings.TrimSpace(s.AuthorizedKey)},
				Shell:             "/bin/bash",
			},
		},
	}

	data, err := yaml.Marshal(ud)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data: %w", err)
	}

	return "#cloud-config\n" + string(data), nil
}

// GenerateMetaData generates the meta-data file content.
func GenerateMetaData(s Seed) (string, error) {
	if s.InstanceID == "" {
		return "", fmt.Errorf("instance id is required")
	}

	md := metaData{
		InstanceID:    s.InstanceID,
		LocalHostname: s.InstanceID,
	}

	data, err := yaml.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data: %w", err)
	}

	return string(data), nil
}

// GenerateISO creates the NoCloud seed ISO with user-data and meta-data in
// the root directory. The volume label must be "CIDATA" (uppercase) per the
// NoCloud specification.
//
// Returns the ISO image as a byte slice, ready to be written next to the
// VM's overlay disk.
func GenerateISO(s Seed) ([]byte, error) {
	ud, err := GenerateUserData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	md, err := GenerateMetaData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup removes the writer's temporary staging files; the ISO
		// bytes are already in the buffer by then.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(ud)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(md)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
