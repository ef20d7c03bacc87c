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


// Package storage provides the storage abstraction layer for gleaner.
//
// This package defines repository interfaces that decouple the ingestion
// pipeline from the storage engine. Three repositories cover the domain:
//
//   - JobRepository: the durable job queue (enqueue, claim, stage, finalize)
//   - DocumentRepository: documents keyed by (tenant, url hash)
//   - ChunkRepository: chunks keyed by (tenant, document, position)
//
// # Claim Semantics
//
// JobRepository.ClaimNext is the only mutual-exclusion point in the system.
// Implementations must perform it as a conditional update: the claim succeeds
// only if the job is still queued when the write commits. A lost race is
// reported as ErrRaceLost and callers treat it as "no job", never as a failure.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	jobs, docs, chunks, backend, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
