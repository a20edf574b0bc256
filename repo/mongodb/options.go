// Copyright (c) 2026 - The rsvpkit authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mongodb

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rsvpkit/rsvpkit/mongoutils"
)

// Option is an option setter used to configure creation.
type Option func(*Repo) error

// WithConnectionCheck pings the DB when creating the repo.
func WithConnectionCheck() Option {
	return func(r *Repo) error {
		r.connectionCheck = true

		return nil
	}
}

// WithCollectionName uses a different collection from the default "repository" collection.
func WithCollectionName(collection string) Option {
	return func(r *Repo) error {
		if err := mongoutils.CheckCollectionName(collection); err != nil {
			return fmt.Errorf("repository collection: %w", err)
		}

		r.collectionName = collection

		return nil
	}
}

// WithLogger sets the logger used by the repo.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Repo) error {
		if logger == nil {
			return fmt.Errorf("missing logger")
		}

		r.logger = logger.Named("mongodb_repo")

		return nil
	}
}
