// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets retrieves secrets, such as the upstream API key, by name.
package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Provider of secrets by their ID.
type Provider interface {
	Secret(ctx context.Context, id string) (string, error)
	Close() error
}

// Sources of secrets accepted by New.
const (
	SecretManagerSource = "secretmanager"
	EnvSource           = "env"
	FileSource          = "file"
)

// New creates a Provider for the source. The project is used by the GCP
// Secret Manager, and dir by the file source.
func New(ctx context.Context, source, project, dir string) (Provider, error) {
	switch source {
	case SecretManagerSource:
		return NewSecretManager(ctx, project)
	case EnvSource:
		return Env{}, nil
	case FileSource:
		return File{Dir: dir}, nil
	}
	return nil, errors.Reason("unknown secret source: '%s'", source)
}

// Lookup a single secret using a new Provider for the source.
func Lookup(ctx context.Context, source, project, dir, id string) (string, error) {
	p, err := New(ctx, source, project, dir)
	if err != nil {
		return "", errors.Annotate(err, "failed to create secret provider")
	}
	defer p.Close()
	return p.Secret(ctx, id)
}

type accessFunc func(ctx context.Context, name string) ([]byte, error)

// SecretManager reads the latest version of secrets in the GCP Secret Manager.
type SecretManager struct {
	project string
	access  accessFunc
	close   func() error
}

var _ Provider = &SecretManager{}

// NewSecretManager creates a Secret Manager client for the project using the
// default application credentials.
func NewSecretManager(ctx context.Context, project string) (*SecretManager, error) {
	if project == "" {
		return nil, errors.Reason("project is required for the Secret Manager")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create Secret Manager client")
	}
	access := func(ctx context.Context, name string) ([]byte, error) {
		resp, err := client.AccessSecretVersion(ctx,
			&secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if err != nil {
			return nil, err
		}
		return resp.GetPayload().GetData(), nil
	}
	return &SecretManager{project: project, access: access, close: client.Close}, nil
}

// VersionName is the resource name of the latest version of the secret.
func (s *SecretManager) VersionName(id string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, id)
}

func (s *SecretManager) Secret(ctx context.Context, id string) (string, error) {
	name := s.VersionName(id)
	data, err := s.access(ctx, name)
	if err != nil {
		return "", errors.Annotate(err, "failed to access secret %s", name)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", errors.Reason("secret %s is empty", name)
	}
	logging.Infof(ctx, "retrieved secret %s from Secret Manager", id)
	return secret, nil
}

func (s *SecretManager) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Env reads secrets from environment variables. The variable name is the
// upper-cased secret ID with dashes replaced by underscores, e.g.
// ALPHA_VANTAGE_API_KEY.
type Env struct{}

var _ Provider = Env{}

// EnvName is the environment variable holding the secret.
func EnvName(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func (Env) Secret(ctx context.Context, id string) (string, error) {
	v := strings.TrimSpace(os.Getenv(EnvName(id)))
	if v == "" {
		return "", errors.Reason("environment variable %s is not set", EnvName(id))
	}
	return v, nil
}

func (Env) Close() error { return nil }

// File reads each secret from a file named by the secret ID in Dir.
type File struct {
	Dir string
}

var _ Provider = File{}

func (f File) Secret(ctx context.Context, id string) (string, error) {
	path := filepath.Join(f.Dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Annotate(err, "failed to read secret file %s", path)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", errors.Reason("secret file %s is empty", path)
	}
	return v, nil
}

func (File) Close() error { return nil }
