package models

import "strings"

// maxSlugLen bounds the slug portion of generated branch names.
const maxSlugLen = 40

// Slugify converts free text into a branch-safe slug: lowercase,
// alphanumerics preserved, everything else collapsed to single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimSuffix(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "work"
	}
	return slug
}

// FeatureBranchName returns the branch name for a feature:
// feature/{feature_id}-{slug}. The format is consumed by external
// tooling and must not change.
func FeatureBranchName(featureID, name string) string {
	return "feature/" + featureID + "-" + Slugify(name)
}

// TaskBranchName returns the branch name for a task workspace:
// task/{feature_id}/{task_id}-{slug}.
func TaskBranchName(featureID, taskID, title string) string {
	return "task/" + featureID + "/" + taskID + "-" + Slugify(title)
}
