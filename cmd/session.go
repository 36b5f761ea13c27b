/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/PextraCloud/pce-cli/internal/cloudapi"
	"github.com/PextraCloud/pce-cli/internal/config"
	"github.com/PextraCloud/pce-cli/internal/imagecmd"
	"github.com/PextraCloud/pce-cli/internal/localstore"
)

// Replaced in tests
var sessionSetup = openSession

// Opens a session against the control plane named by the resolved profile
func openSession(opts *globalOptions) imagecmd.SessionFunc {
	return func(ctx context.Context) (imagecmd.Session, error) {
		p, err := config.Resolve(opts.profile, config.Overrides{
			URL:      opts.url,
			Account:  opts.account,
			KeyID:    opts.keyID,
			KeyPath:  opts.keyPath,
			Insecure: opts.insecure,
		})
		if err != nil {
			return nil, err
		}

		if dir, ok := p.LocalDir(); ok {
			logrus.WithField("dir", dir).Debug("using local image layout")
			store, err := localstore.Open(dir, config.ExpandHome(p.ObjectsRoot))
			if err != nil {
				return nil, err
			}
			return store, nil
		}

		signer, closer, err := cloudapi.LoadSigner(p.KeyID, config.ExpandHome(p.KeyPath))
		if err != nil {
			return nil, err
		}
		ks, err := cloudapi.NewKeySigner(p.Account, signer)
		if err == nil {
			var client *cloudapi.Client
			client, err = cloudapi.New(cloudapi.Config{
				URL:      p.URL,
				Account:  p.Account,
				Insecure: p.Insecure,
				Timeout:  p.RequestTimeout(),
			}, ks)
			if err == nil {
				client.HoldCloser(closer)
				logrus.WithFields(logrus.Fields{"url": p.URL, "account": p.Account, "keyId": ks.KeyID()}).Debug("using CloudAPI")
				return client, nil
			}
		}
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
}
