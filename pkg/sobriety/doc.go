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

// Package sobriety stores the sobriety date of each device.
//
// A device has at most one record. Creating a record for a known device
// overwrites its date; updating requires an existing record and a date after
// the current day. Fetching an unknown device is not an error for HTTP
// clients: the controller answers 200 with success=false.
package sobriety
