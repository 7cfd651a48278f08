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

package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSecrets(t *testing.T) {
	tmpdir, tmpdirErr := os.MkdirTemp("", "test_secrets")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	ctx := context.Background()

	Convey("Env provider", t, func() {
		So(EnvName("alpha_vantage_api_key"), ShouldEqual, "ALPHA_VANTAGE_API_KEY")
		So(EnvName("av-key"), ShouldEqual, "AV_KEY")

		t.Setenv("VOLDISLOC_TEST_KEY", " secret \n")
		p, err := New(ctx, EnvSource, "", "")
		So(err, ShouldBeNil)
		v, err := p.Secret(ctx, "voldisloc_test_key")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, "secret")

		_, err = p.Secret(ctx, "voldisloc_no_such_key")
		So(err, ShouldNotBeNil)
	})

	Convey("File provider", t, func() {
		So(testutil.WriteFile(filepath.Join(tmpdir, "api_key"), "filesecret\n"), ShouldBeNil)
		So(testutil.WriteFile(filepath.Join(tmpdir, "empty"), "  \n"), ShouldBeNil)

		v, err := Lookup(ctx, FileSource, "", tmpdir, "api_key")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, "filesecret")

		_, err = Lookup(ctx, FileSource, "", tmpdir, "empty")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "is empty")

		_, err = Lookup(ctx, FileSource, "", tmpdir, "missing")
		So(err, ShouldNotBeNil)
	})

	Convey("Secret Manager provider", t, func() {
		var requested string
		s := &SecretManager{
			project: "voldisloc",
			access: func(ctx context.Context, name string) ([]byte, error) {
				requested = name
				if name == "projects/voldisloc/secrets/denied/versions/latest" {
					return nil, errors.Reason("permission denied")
				}
				return []byte("smsecret"), nil
			},
		}
		v, err := s.Secret(ctx, "alpha_vantage_api_key")
		So(err, ShouldBeNil)
		So(v, ShouldEqual, "smsecret")
		So(requested, ShouldEqual,
			"projects/voldisloc/secrets/alpha_vantage_api_key/versions/latest")
		So(s.Close(), ShouldBeNil)

		_, err = s.Secret(ctx, "denied")
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "permission denied")

		_, err = NewSecretManager(ctx, "")
		So(err, ShouldNotBeNil)
	})

	Convey("Unknown source", t, func() {
		_, err := New(ctx, "vault", "", "")
		So(err, ShouldNotBeNil)
	})
}
