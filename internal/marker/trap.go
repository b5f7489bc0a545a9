package marker

import (
	"fmt"
	"strings"
)

// TrapScript builds the shell script used as the container's entry
// process. It installs exit traps that write the completion marker to the
// staging mount regardless of how the process ends (normal exit, docker
// stop, interrupt), then holds the container open so commands can be
// exec'd into it.
//
// The marker write is atomic (temp file + rename) so the host never reads
// a partial record. The script only interpolates task and container
// identifiers, which are generated hex strings, so no shell quoting of
// user input is involved.
func TrapScript(taskID, containerName, stagingTarget string, preflight []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `set -u
GANTRY_TASK_ID=%q
GANTRY_CONTAINER_NAME=%q
GANTRY_MARKER_DIR=%q
GANTRY_STARTED_AT="$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)"

gantry_write_marker() {
  code="$1"
  reason="$2"
  finished="$(date -u +%%Y-%%m-%%dT%%H:%%M:%%SZ)"
  tmp="$GANTRY_MARKER_DIR/%s.tmp"
  printf '{\n  "task_id": "%%s",\n  "container_name": "%%s",\n  "exit_code": %%d,\n  "started_at": "%%s",\n  "finished_at": "%%s",\n  "reason": "%%s"\n}\n' \
    "$GANTRY_TASK_ID" "$GANTRY_CONTAINER_NAME" "$code" "$GANTRY_STARTED_AT" "$finished" "$reason" > "$tmp"
  mv "$tmp" "$GANTRY_MARKER_DIR/%s"
}

trap 'gantry_write_marker "$?" process_exit' EXIT
trap 'trap - EXIT; gantry_write_marker 143 killed; exit 143' TERM
trap 'trap - EXIT; gantry_write_marker 130 killed; exit 130' INT
`, taskID, containerName, stagingTarget, FileName, FileName)

	for _, script := range preflight {
		b.WriteString("\n")
		b.WriteString(script)
		b.WriteString("\n")
	}

	// Hold the container open. The loop (rather than one long sleep)
	// keeps signal delivery prompt on shells that wait for the child.
	b.WriteString("\nwhile :; do sleep 5; done\n")

	return b.String()
}
