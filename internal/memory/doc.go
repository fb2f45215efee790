// Package memory keeps the pipeline inside its container's memory limit.
//
// The Go runtime does not see cgroup limits. In a container with a 2 GiB
// cap the collector happily grows the heap toward the host's memory and the
// kernel OOM-kills the process mid-batch, losing in-flight work and forcing
// a resume pass. Two pieces address this:
//
// [ConfigureFromEnv] turns the container limit into a runtime soft limit.
// An explicit GOMEMLIMIT wins; otherwise MEMORY_LIMIT (bytes, typically
// injected through the Kubernetes Downward API) scaled by MEMORY_RATIO
// (default 0.85) is handed to [runtime/debug.SetMemoryLimit]. The slack
// covers allocations the pacer cannot pace: libvips decode buffers, archive
// extraction windows and goroutine stacks.
//
//	spec:
//	  containers:
//	    - name: pipeline
//	      env:
//	        - name: MEMORY_LIMIT
//	          valueFrom:
//	            resourceFieldRef:
//	              resource: limits.memory
//
// [Monitor] adds backpressure on top of the soft limit. It samples the heap
// on an interval and holds consumers once usage crosses the critical
// watermark (default 85% of the budget), resuming only after the collector
// has worked usage back under the high watermark (default 70%). The gap
// between the two keeps the pipeline from flapping. Consumers block at the
// top of their delivery loops, and scans block between archive entries, so
// a pause never strands a half-processed message.
//
// Without a budget from either source the monitor is inert: Start is a
// no-op and WaitIfPaused never blocks.
package memory
