package kiln_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/pkg/translate"
)

// ExampleNew demonstrates the full session lifecycle: discover a usable
// Python environment, spawn a kernel, execute code and tear down.
func ExampleNew() {
	eng, err := kiln.New()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	env, err := eng.UsableEnvironment(ctx)
	if err != nil {
		log.Fatal(err)
	}

	sess, err := eng.Connect(ctx,
		kiln.WithEnvironment(env),
		kiln.WithTimeout(30*time.Second),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()

	cell, err := sess.Execute(ctx, "print(2 + 2)", "", 0)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(cell.Text())
}

// ExampleEngine_ExportNotebook converts marker-delimited source into an
// nbformat document and back without touching a kernel.
func ExampleEngine_ExportNotebook() {
	eng, err := kiln.New()
	if err != nil {
		log.Fatal(err)
	}

	source := `# %% [markdown]
# # Greetings
# %%
print("hi")
`
	cells := translate.ParseMarkers(source, "demo.py")

	data, err := eng.ExportNotebook(cells)
	if err != nil {
		log.Fatal(err)
	}

	back, err := eng.ParseNotebook(data)
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range back {
		fmt.Println(c.Kind, "|", c.Source)
	}

	// Output:
	// markdown | # Greetings
	// code | print("hi")
}

// ExampleEngine_Connect_overrides launches a kernel with a custom argv
// template, e.g. to run the kernel inside a specific virtualenv.
func ExampleEngine_Connect_overrides() {
	eng, err := kiln.New()
	if err != nil {
		log.Fatal(err)
	}

	sess, err := eng.Connect(context.Background(), kiln.WithLaunchOverrides(map[string]any{
		"launch": map[string]any{
			"argv": []string{"/opt/venv/bin/python", "-m", "ipykernel_launcher", "-f", "{connection_file}"},
			"env":  map[string]string{"PYTHONUNBUFFERED": "1"},
		},
	}))
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()

	fmt.Println(sess.Status())
}
