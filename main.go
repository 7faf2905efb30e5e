package main

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/xyproto/env/v2"
)

func main() {
	var (
		dbPath   string
		runWord  string
		show     bool
		verbose  bool
		memLimit uint64
	)
	flag.StringVar(&dbPath, "o", env.Str("MARCH_DB", "march.db"), "output database file")
	flag.StringVar(&runWord, "r", "", "run word after compilation")
	flag.BoolVar(&show, "s", false, "show stack after execution")
	flag.BoolVar(&verbose, "v", env.Bool("MARCH_VERBOSE"), "verbose output")
	flag.Uint64Var(&memLimit, "mem-limit", uint64(env.Int("MARCH_MEM_LIMIT", defaultMemLimit)), "engine memory limit in bytes")
	flag.Parse()

	log := logrus.StandardLogger()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() == 0 {
		log.Fatal("no input file specified")
	}

	opts := []Option{
		WithStorePath(dbPath),
		WithEngineOptions(WithMemLimit(memLimit)),
	}
	if verbose {
		opts = append(opts, WithLogf(log.Debugf))
	}

	m, err := New(opts...)
	if err != nil {
		log.WithError(err).Fatal("cannot open store")
	}
	defer m.Close()

	for _, path := range flag.Args() {
		log.WithField("file", path).Debug("compiling")
		if err := m.CompileFile(path); err != nil {
			log.WithField("category", Categorize(err)).Fatal(err)
		}
	}

	if runWord != "" {
		log.WithField("word", runWord).Debug("executing")
		if err := m.Execute(runWord); err != nil {
			log.WithField("category", Categorize(err)).Fatal(err)
		}
		if show {
			stack := m.Stack()
			fmt.Printf("Stack (%d items):\n", len(stack))
			for i := len(stack) - 1; i >= 0; i-- {
				fmt.Printf("  [%d] = %d\n", len(stack)-1-i, stack[i])
			}
		}
	}
}
