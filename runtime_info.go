// Copyright 2025 Patrick J. Scruggs
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

package slogsentry

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
)

// RuntimeEnvironment names the platform the process runs on.
type RuntimeEnvironment string

const (
	// RuntimeEnvUnknown means no known platform was detected.
	RuntimeEnvUnknown RuntimeEnvironment = ""
	// RuntimeEnvCloudRunService is a Cloud Run service.
	RuntimeEnvCloudRunService RuntimeEnvironment = "cloud_run_service"
	// RuntimeEnvCloudRunJob is a Cloud Run job.
	RuntimeEnvCloudRunJob RuntimeEnvironment = "cloud_run_job"
	// RuntimeEnvCloudFunctions is a Cloud Function.
	RuntimeEnvCloudFunctions RuntimeEnvironment = "cloud_functions"
	// RuntimeEnvKubernetes is a Kubernetes pod.
	RuntimeEnvKubernetes RuntimeEnvironment = "kubernetes"
	// RuntimeEnvComputeEngine is a plain GCE VM.
	RuntimeEnvComputeEngine RuntimeEnvironment = "compute_engine"
)

// metadataTimeout bounds every metadata server lookup.
const metadataTimeout = 500 * time.Millisecond

// RuntimeInfo captures metadata about the process and its hosting platform.
type RuntimeInfo struct {
	Hostname       string
	GoVersion      string
	Environment    RuntimeEnvironment
	ProjectID      string
	InstanceID     string
	Zone           string
	Service        string
	ServiceVersion string
}

var (
	runtimeInfo     RuntimeInfo
	runtimeInfoOnce sync.Once

	// Seams replaced in tests.
	onGCE         = metadata.OnGCE
	metadataValue = defaultMetadataValue
)

// DetectRuntimeInfo inspects well-known environment variables and, on Google
// Cloud, the metadata server. Results are cached for the process lifetime.
func DetectRuntimeInfo() RuntimeInfo {
	runtimeInfoOnce.Do(func() {
		runtimeInfo = detectRuntimeInfo()
	})
	return runtimeInfo
}

// detectRuntimeInfo performs the uncached detection.
func detectRuntimeInfo() RuntimeInfo {
	info := RuntimeInfo{
		GoVersion: runtime.Version(),
		ProjectID: normalizeProjectID(firstNonEmpty(
			trimmedEnv("SLOGSENTRY_PROJECT_ID"),
			trimmedEnv("GOOGLE_CLOUD_PROJECT"),
			trimmedEnv("GCLOUD_PROJECT"),
			trimmedEnv("GCP_PROJECT"),
		)),
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}

	switch {
	case trimmedEnv("K_SERVICE") != "" && trimmedEnv("FUNCTION_TARGET") != "":
		info.Environment = RuntimeEnvCloudFunctions
		info.Service = trimmedEnv("K_SERVICE")
		info.ServiceVersion = trimmedEnv("K_REVISION")
	case trimmedEnv("K_SERVICE") != "":
		info.Environment = RuntimeEnvCloudRunService
		info.Service = trimmedEnv("K_SERVICE")
		info.ServiceVersion = trimmedEnv("K_REVISION")
	case trimmedEnv("CLOUD_RUN_JOB") != "":
		info.Environment = RuntimeEnvCloudRunJob
		info.Service = trimmedEnv("CLOUD_RUN_JOB")
		info.ServiceVersion = trimmedEnv("CLOUD_RUN_EXECUTION")
	case trimmedEnv("KUBERNETES_SERVICE_HOST") != "":
		info.Environment = RuntimeEnvKubernetes
	}

	if !onGCE() {
		return info
	}
	if info.Environment == RuntimeEnvUnknown {
		info.Environment = RuntimeEnvComputeEngine
	}
	if info.ProjectID == "" {
		if pid, ok := metadataValue("project/project-id"); ok {
			info.ProjectID = normalizeProjectID(pid)
		}
	}
	if id, ok := metadataValue("instance/id"); ok {
		info.InstanceID = id
	}
	if zone, ok := metadataValue("instance/zone"); ok {
		// The server answers with "projects/NUMBER/zones/ZONE".
		info.Zone = zone[strings.LastIndexByte(zone, '/')+1:]
	}
	return info
}

// defaultMetadataValue reads one metadata path with a bounded timeout.
func defaultMetadataValue(path string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	val, err := metadata.GetWithContext(ctx, path)
	if err != nil {
		return "", false
	}
	val = strings.TrimSpace(val)
	return val, val != ""
}

// trimmedEnv reads an environment variable and trims surrounding whitespace.
func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// firstNonEmpty returns the first non-empty string after trimming whitespace.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// normalizeProjectID strips common prefixes and leading underscores from project IDs.
func normalizeProjectID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "projects/")
	id = strings.TrimPrefix(id, "PROJECTS/")
	id = strings.TrimPrefix(id, "_")
	return id
}
