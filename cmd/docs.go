package cmd

import (
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// https://pmarsceill.github.io/just-the-docs/docs/navigation-structure/
const rootPage = `---
layout: default
title: %s
nav_order: 0
has_children: true
permalink: /
---
`

const childPage = `---
layout: default
title: %s
parent: tombo
---
`

// docsCmd writes Markdown documentation pages for the command tree
var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "Generate Markdown documentation pages",
	Hidden: true,
	Run:    makeDocs,
}

func init() {
	RootCmd.AddCommand(docsCmd)
}

// makeDocs parses the commands and outputs Markdown documentation files
func makeDocs(cmd *cobra.Command, args []string) {
	if err := doc.GenMarkdownTreeCustom(RootCmd, "./docs", filePrepender, linkHandler); err != nil {
		log.Errorf("%v", err)
	}
}

// filePrepender adds the YAML headings required by the just-the-docs theme
// https://github.com/spf13/cobra/blob/master/doc/md_docs.md
func filePrepender(filename string) string {
	base := pageBase(filename)
	if base == "tombo" {
		return strings.Replace(rootPage, "%s", base, 1)
	}
	title := strings.TrimPrefix(base, "tombo_")
	return strings.Replace(childPage, "%s", title, 1)
}

// linkHandler returns the URL to a documentation page
func linkHandler(filename string) string {
	base := pageBase(filename)
	if base == "tombo" {
		return "/"
	}
	return base
}

func pageBase(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, path.Ext(name))
}
