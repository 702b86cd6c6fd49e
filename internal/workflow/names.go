package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// externalTriggerRe matches qualified cross-pipeline job names of the form
// "sd@<pipelineID>:<jobName>".
var externalTriggerRe = regexp.MustCompile(`^sd@(\d+):([\w-]+)$`)

// IsExternalName reports whether the job name addresses a job in another
// pipeline.
func IsExternalName(name string) bool {
	return externalTriggerRe.MatchString(name)
}

// ExternalName builds the qualified form for a job in another pipeline.
func ExternalName(pipelineID int64, jobName string) string {
	return fmt.Sprintf("sd@%d:%s", pipelineID, jobName)
}

// ParseExternalName splits a qualified external job name into its pipeline
// id and bare job name.
func ParseExternalName(name string) (pipelineID int64, jobName string, err error) {
	m := externalTriggerRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", fmt.Errorf("%q is not an external job name", name)
	}
	pipelineID, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid pipeline id in %q: %w", name, err)
	}
	return pipelineID, m[2], nil
}

// TrimJobName strips the pull-request prefix from names like "PR-15:main";
// other names pass through unchanged.
func TrimJobName(name string) string {
	if strings.HasPrefix(name, "PR-") {
		if _, rest, ok := strings.Cut(name, ":"); ok {
			return rest
		}
	}
	return name
}
