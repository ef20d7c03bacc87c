// Copyright 2025 Poiesic Systems
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


package core

import "errors"

// Ingestion errors
var (
	// ErrInvalidInput indicates a malformed URL or a missing required field.
	// Rejected before any job is created and never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateActiveJob indicates a queued or in-progress job already exists
	// for the same tenant and URL. Informational, surfaced as a deduped result.
	ErrDuplicateActiveJob = errors.New("duplicate active job")

	// ErrFetchFailure indicates the content could not be retrieved after all retries.
	ErrFetchFailure = errors.New("fetch failed")

	// ErrExtractionFailure indicates no extractable content was found.
	ErrExtractionFailure = errors.New("extraction failed")

	// ErrEmbeddingCountMismatch indicates the embedding provider returned
	// a different number of vectors than texts it was given.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")

	// ErrStoreFailure indicates the document store rejected a write.
	ErrStoreFailure = errors.New("store failed")

	// ErrRaceLost indicates another worker claimed the job first.
	ErrRaceLost = errors.New("claim race lost")
)

// Validation errors
var (
	// ErrEmptyTenant indicates the tenant ID is empty.
	ErrEmptyTenant = errors.New("tenant id cannot be empty")

	// ErrInvalidTenant indicates the tenant ID contains control characters or is too long.
	ErrInvalidTenant = errors.New("tenant id contains control characters or is too long")

	// ErrEmptyURL indicates the URL is empty.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrUnsupportedScheme indicates the URL is not http or https.
	ErrUnsupportedScheme = errors.New("url scheme must be http or https")

	// ErrMissingHost indicates the URL has no host.
	ErrMissingHost = errors.New("url must have a host")
)
