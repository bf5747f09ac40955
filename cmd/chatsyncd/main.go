package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/franciszver/cohort3-challenge2/internal/app"
	"github.com/franciszver/cohort3-challenge2/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fx.New(
		app.Module(app.Params{ProfileName: profileName}),
	).Run()
}
