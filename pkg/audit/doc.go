/*
Copyright 2026.

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

// Package audit records domain events of the companion API.
//
// Events are handed to a Manager, which queues them and writes them to a
// Sink off the request path. The log sink is always available; a Kafka sink
// is added when brokers are configured.
//
// Usage:
//
//	mgr, err := audit.NewFromConfig(cfg.Audit, logger)
//	mgr.SupportFormSubmitted(ctx, sub, requestID)
//	defer mgr.Close()
package audit
