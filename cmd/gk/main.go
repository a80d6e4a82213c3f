// Command gk scaffolds a new native plugin project: a main.go
// exporting the pluginabi symbol table, a manifest, and a build
// script, so a plugin author doesn't start from a blank file.
package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*
var templateFS embed.FS

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "plugin":
		if len(os.Args) < 3 {
			fmt.Println("Usage: gk plugin <command>")
			fmt.Println("Commands: init")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "init":
			pluginInit()
		default:
			fmt.Printf("Unknown plugin command: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Println("gk version 0.8.0")
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gk - plugin scaffolding tool")
	fmt.Println()
	fmt.Println("Usage: gk <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  plugin init <name>   Scaffold a new native plugin")
	fmt.Println("  help                 Show this help message")
	fmt.Println("  version              Show version information")
}

func pluginInit() {
	var name string
	if len(os.Args) > 3 {
		name = os.Args[3]
	} else {
		fmt.Print("Plugin name: ")
		fmt.Scanln(&name)
	}

	if name == "" {
		fmt.Println("Error: plugin name is required")
		os.Exit(1)
	}

	name = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	createPlugin(name)
}

func createPlugin(name string) {
	dir := filepath.Join("plugins", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	data := map[string]string{
		"Name":        name,
		"NameTitle":   toTitle(name),
		"NameSnake":   strings.ReplaceAll(name, "-", "_"),
		"Description": fmt.Sprintf("A %s plugin", name),
	}

	writeTemplate(filepath.Join(dir, "main.go"), "templates/plugin_main.go.tmpl", data)
	writeTemplate(filepath.Join(dir, name+".yaml"), "templates/plugin_manifest.yaml.tmpl", data)
	writeTemplate(filepath.Join(dir, "build.sh"), "templates/plugin_build.sh.tmpl", data)
	os.Chmod(filepath.Join(dir, "build.sh"), 0o755)
	writeTemplate(filepath.Join(dir, "README.md"), "templates/plugin_readme.md.tmpl", data)

	fmt.Printf("Created plugin: %s/\n", dir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  cd %s\n", dir)
	fmt.Println("  ./build.sh")
}

func writeTemplate(path, tmplPath string, data any) {
	content, err := templateFS.ReadFile(tmplPath)
	if err != nil {
		fmt.Printf("Error reading template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}

	tmpl, err := template.New(filepath.Base(tmplPath)).Parse(string(content))
	if err != nil {
		fmt.Printf("Error parsing template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}

	f, err := os.Create(path)
	if err != nil {
		fmt.Printf("Error creating file %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		fmt.Printf("Error executing template %s: %v\n", tmplPath, err)
		os.Exit(1)
	}
}

func toTitle(s string) string {
	words := strings.Split(s, "-")
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, "")
}
