/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package workload

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/canonical/pebble/client"
	"gopkg.in/yaml.v3"
)

// DefaultChangeTimeout bounds how long a service restart may take
const DefaultChangeTimeout = 2 * time.Minute

// SocketPath returns the pebble socket of a sidecar container
func SocketPath(container string) string {
	return path.Join("/charm/containers", container, "pebble.socket")
}

// ChangeError is returned when pebble reports a failed change
type ChangeError struct {
	ChangeID string
	Err      string
}

func (e *ChangeError) Error() string {
	return fmt.Sprintf("pebble change %s failed: %s", e.ChangeID, e.Err)
}

// PebbleClient is the subset of the pebble client used by Container
type PebbleClient interface {
	SysInfo() (*client.SysInfo, error)
	ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error)
	MakeDir(opts *client.MakeDirOptions) error
	Push(opts *client.PushOptions) error
	Pull(opts *client.PullOptions) error
	RemovePath(opts *client.RemovePathOptions) error
	AddLayer(opts *client.AddLayerOptions) error
	Restart(opts *client.ServiceOptions) (changeID string, err error)
	WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error)
}

// Container drives the workload container through pebble
type Container struct {
	name          string
	pebble        PebbleClient
	changeTimeout time.Duration
}

// NewContainer connects to the pebble socket of the named sidecar container
func NewContainer(name string) (*Container, error) {
	c, err := client.New(&client.Config{Socket: SocketPath(name)})
	if err != nil {
		return nil, fmt.Errorf("failed to create pebble client for %s: %w", name, err)
	}
	return NewContainerWithClient(name, c), nil
}

// NewContainerWithClient wraps an existing pebble client
func NewContainerWithClient(name string, pebble PebbleClient) *Container {
	return &Container{name: name, pebble: pebble, changeTimeout: DefaultChangeTimeout}
}

// Name returns the container name
func (c *Container) Name() string {
	return c.name
}

// CanConnect reports whether the pebble API answers
func (c *Container) CanConnect() bool {
	_, err := c.pebble.SysInfo()
	return err == nil
}

// Exists reports whether a path exists in the container
func (c *Container) Exists(p string) (bool, error) {
	_, err := c.stat(p)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDir reports whether a path exists and is a directory
func (c *Container) IsDir(p string) (bool, error) {
	info, err := c.stat(p)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (c *Container) stat(p string) (*client.FileInfo, error) {
	files, err := c.pebble.ListFiles(&client.ListFilesOptions{Path: p, Itself: true})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &client.Error{Kind: "not-found", Message: p + " not found", StatusCode: http.StatusNotFound}
	}
	return files[0], nil
}

// MakeDir creates a directory
func (c *Container) MakeDir(p string, makeParents bool) error {
	return c.pebble.MakeDir(&client.MakeDirOptions{Path: p, MakeParents: makeParents})
}

// Push writes a file, creating parent directories. A zero perm keeps
// pebble's default mode.
func (c *Container) Push(p string, content []byte, perm fs.FileMode) error {
	opts := &client.PushOptions{
		Source:   bytes.NewReader(content),
		Path:     p,
		MakeDirs: true,
	}
	if perm != 0 {
		opts.Permissions = perm.Perm()
	}
	return c.pebble.Push(opts)
}

// Pull reads a file
func (c *Container) Pull(p string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.pebble.Pull(&client.PullOptions{Path: p, Target: &buf}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RemovePath removes a file; a missing file is not an error
func (c *Container) RemovePath(p string) error {
	err := c.pebble.RemovePath(&client.RemovePathOptions{Path: p})
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// AddLayer adds or combines a layer into the pebble plan
func (c *Container) AddLayer(label string, layer *Layer, combine bool) error {
	data, err := yaml.Marshal(layer)
	if err != nil {
		return fmt.Errorf("failed to encode layer %s: %w", label, err)
	}
	return c.pebble.AddLayer(&client.AddLayerOptions{
		Combine:   combine,
		Label:     label,
		LayerData: data,
	})
}

// Restart restarts services and waits for the change to complete
func (c *Container) Restart(services ...string) error {
	changeID, err := c.pebble.Restart(&client.ServiceOptions{Names: services})
	if err != nil {
		return fmt.Errorf("failed to restart %v: %w", services, err)
	}

	change, err := c.pebble.WaitChange(changeID, &client.WaitChangeOptions{Timeout: c.changeTimeout})
	if err != nil {
		return fmt.Errorf("failed to wait for change %s: %w", changeID, err)
	}
	if change.Err != "" {
		return &ChangeError{ChangeID: changeID, Err: change.Err}
	}
	return nil
}

// IsNotFound reports whether pebble answered that a path does not exist
func IsNotFound(err error) bool {
	var perr *client.Error
	if errors.As(err, &perr) {
		return perr.Kind == "not-found" || perr.StatusCode == http.StatusNotFound
	}
	return false
}
