package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kds/pkg/routing"
)

// ValidateRoutes parses a routing table file and prints where every
// category goes. The path comes from args or the routing.file key.
func ValidateRoutes(out io.Writer, args []string, config *apt.Config, logger apt.Logger) error {
	path := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path = args[0]
	} else {
		path, _ = config.GetString("routing.file")
	}
	if path == "" {
		return errors.New("no routing file given")
	}

	table, err := routing.LoadFile(path)
	if err != nil {
		return err
	}
	logger.Info("Routing table is valid", "file", path, "stations", len(table.StationIDs()))
	return PrintTable(out, table)
}

// PrintTable writes the stations and category routes of a table.
func PrintTable(out io.Writer, table *routing.Table) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "STATION\tNAME\tTYPE\tROLE")
	for _, s := range table.Stations() {
		var roles []string
		if s.ID == table.ExpoStation() {
			roles = append(roles, "expo")
		}
		if s.ID == table.DefaultStation() {
			roles = append(roles, "default")
		}
		role := strings.Join(roles, ", ")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Type, role)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "CATEGORY\tSTATIONS")
	for _, c := range table.Categories() {
		fmt.Fprintf(w, "%s\t%s\n", c, strings.Join(table.Resolve(c), ", "))
	}
	return w.Flush()
}
