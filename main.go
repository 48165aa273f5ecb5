package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/MbinOrg/mbin-sub001/app"
	"github.com/MbinOrg/mbin-sub001/util"
)

func main() {
	versionFlag := flag.Bool("v", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(util.GetNameAndVersion())
		os.Exit(0)
	}

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	// Setup logging (journald if enabled, otherwise standard logging)
	util.SetupLogging(conf.Conf.WithJournald)

	log.Println(util.GetNameAndVersion())
	log.Println("Configuration: ")
	log.Println(util.PrettyPrint(conf))

	application, err := app.New(conf)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Blocks until shutdown signal
	if err := application.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
