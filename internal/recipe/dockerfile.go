package recipe

import (
	"fmt"
	"sort"
	"strings"

	"bricklayer/internal/manifest"
)

// Dockerfile renders the recipe as an equivalent Dockerfile, instructions in
// build order. The runtime user is created explicitly with useradd, since
// the recipe never assumes it exists in the base image.
func (r *Recipe) Dockerfile() string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n", r.From)
	fmt.Fprintf(&b, "WORKDIR %s\n", r.Workdir)

	for _, key := range sortedKeys(r.Env) {
		fmt.Fprintf(&b, "ENV %s=%q\n", key, r.Env[key])
	}

	if r.Manifest != "" {
		fmt.Fprintf(&b, "COPY %s ./\n", r.Manifest)
		fmt.Fprintf(&b, "RUN bricklayer fetch --manifest %s --index \"$BRICKLAYER_INDEX\" --dest /%s\n",
			r.Manifest, manifest.DepsDir)
	}

	for _, entry := range r.Copy {
		if entry.Mode != "" {
			fmt.Fprintf(&b, "COPY --chmod=%s %s %s\n", entry.Mode, entry.Source, entry.Dest)
			continue
		}
		fmt.Fprintf(&b, "COPY %s %s\n", entry.Source, entry.Dest)
	}

	account := r.User.Account()
	fmt.Fprintf(&b, "RUN groupadd --gid %d %s && useradd --uid %d --gid %d --no-create-home %s\n",
		account.GID, account.Name, account.UID, account.GID, account.Name)
	fmt.Fprintf(&b, "USER %s\n", account.Name)

	for _, key := range sortedKeys(r.Labels) {
		fmt.Fprintf(&b, "LABEL %s=%q\n", key, r.Labels[key])
	}

	fmt.Fprintf(&b, "CMD [%s]\n", quoteList(r.Cmd))

	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return strings.Join(quoted, ", ")
}
