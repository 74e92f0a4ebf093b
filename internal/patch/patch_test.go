package patch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/src/main/java/Mod.java b/src/main/java/Mod.java
index 1111111..2222222 100644
--- a/src/main/java/Mod.java
+++ b/src/main/java/Mod.java
@@ -1,3 +1,4 @@
 class Mod {
-    void a() {}
+    void a() { log(); }
+    void b() {}
 }
diff --git a/src/main/java/New.java b/src/main/java/New.java
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/src/main/java/New.java
@@ -0,0 +1,2 @@
+class New {
+}
`

func TestExtract(t *testing.T) {
	raw := "Here is the patch:\n\n" + sampleDiff + "\n\nLet me know!"
	got, ok := Extract(raw)
	require.True(t, ok)
	assert.True(t, len(got) > 0 && got[len(got)-1] == '\n')
	assert.Equal(t, "diff --git a/src/main/java/Mod.java", got[:len("diff --git a/src/main/java/Mod.java")])
	assert.Contains(t, got, "Let me know!", "trailing text after the header is kept, matching git apply's tolerance")
}

func TestExtract_NoHeader(t *testing.T) {
	_, ok := Extract("--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n")
	assert.False(t, ok)
	_, ok = Extract("prefix diff --git a/x b/x")
	assert.False(t, ok, "header must start a line")
}

func TestTouchedPaths(t *testing.T) {
	got := TouchedPaths(sampleDiff)
	assert.Equal(t, []string{"src/main/java/Mod.java", "src/main/java/New.java"}, got)

	rename := "diff --git a/old.txt b/new.txt\nsimilarity index 100%\nrename from old.txt\nrename to new.txt\n"
	assert.Equal(t, []string{"old.txt", "new.txt"}, TouchedPaths(rename))
}

func TestCreatedPaths(t *testing.T) {
	assert.Equal(t, []string{"src/main/java/New.java"}, CreatedPaths(sampleDiff))
	assert.Empty(t, CreatedPaths("diff --git a/x b/x\n--- a/x\n+++ b/x\n"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sampleDiff, DefaultForbidden))

	gradle := "diff --git a/build.gradle b/build.gradle\n--- a/build.gradle\n+++ b/build.gradle\n@@ -1 +1 @@\n-a\n+b\n" +
		"diff --git a/sub/gradle/wrapper/gradle-wrapper.properties b/sub/gradle/wrapper/gradle-wrapper.properties\n"
	err := Validate(gradle, DefaultForbidden)
	var fe *ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, []string{"build.gradle", "sub/gradle/wrapper/gradle-wrapper.properties"}, fe.Paths)
	assert.Contains(t, err.Error(), "--allow-forbidden")
	assert.Contains(t, err.Error(), "- build.gradle")
}

func TestValidate_HeaderForms(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want []string
	}{
		{
			name: "quoted header",
			diff: "diff --git \"a/build.gradle\" \"b/build.gradle\"\n--- \"a/build.gradle\"\n+++ \"b/build.gradle\"\n@@ -1 +1 @@\n-a\n+b\n",
			want: []string{"build.gradle"},
		},
		{
			name: "quoted name with escapes",
			diff: "diff --git \"a/gradle/caf\\303\\251.txt\" \"b/gradle/caf\\303\\251.txt\"\n",
			want: []string{"gradle/café.txt"},
		},
		{
			name: "rename target",
			diff: "diff --git a/notes.txt b/notes.txt\nsimilarity index 100%\nrename from notes.txt\nrename to build.gradle\n",
			want: []string{"build.gradle"},
		},
		{
			name: "copy target",
			diff: "diff --git a/notes.txt b/notes.txt\nsimilarity index 100%\ncopy from notes.txt\ncopy to sub/settings.gradle\n",
			want: []string{"sub/settings.gradle"},
		},
		{
			name: "file lines disagree with header",
			diff: "diff --git a/notes.txt b/notes.txt\n--- a/notes.txt\n+++ b/gradlew\n@@ -1 +1 @@\n-a\n+b\n",
			want: []string{"gradlew"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe *ForbiddenError
			require.True(t, errors.As(Validate(tt.diff, DefaultForbidden), &fe))
			assert.Equal(t, tt.want, fe.Paths)
		})
	}
}

func TestTouchedPaths_IgnoresHunkBodies(t *testing.T) {
	d := "diff --git a/q.sql b/q.sql\n--- a/q.sql\n+++ b/q.sql\n@@ -1,2 +1 @@\n--- build.gradle\n-x\n+y\n"
	assert.Equal(t, []string{"q.sql"}, TouchedPaths(d))
	assert.NoError(t, Validate(d, DefaultForbidden))
}

func TestCreatedPaths_RenameAndCopy(t *testing.T) {
	d := "diff --git a/a.txt b/b.txt\nsimilarity index 100%\nrename from a.txt\nrename to b.txt\n" +
		"diff --git a/c.txt b/d.txt\nsimilarity index 100%\ncopy from c.txt\ncopy to d.txt\n"
	assert.Equal(t, []string{"b.txt", "d.txt"}, CreatedPaths(d))
}

func TestValidate_Docker(t *testing.T) {
	d := "diff --git a/docker/Dockerfile b/docker/Dockerfile\n"
	assert.Error(t, Validate(d, DefaultForbidden))
	assert.NoError(t, Validate(d, nil))
}

func TestSummarize(t *testing.T) {
	stats, err := Summarize(sampleDiff)
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Added: 4, Removed: 1}, stats)
	assert.Equal(t, "2 file(s), +4 -1", stats.String())
}
