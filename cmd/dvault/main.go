package main

// The dvault tool is the command line client for a depotvault server.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/depotvault/depotvault/clientapi"
)

// various command line flags, with default values

var (
	server  = flag.String("server", "localhost:14000", "depotvault server to use")
	token   = flag.String("token", "", "API token to use")
	chunked = flag.Bool("chunked", false, "download chunk by chunk instead of in one request")
	outdir  = flag.String("o", ".", "directory to write files into")
	pause   = flag.Duration("pause", time.Second, "pause between exported chunks")
	limit   = flag.Int64("chunksize", 0, "export chunk size in bytes (0 = server default)")
	usage   = `
dvault <command> <command arguments>

Possible commands:

    get <key>
    export <key>
    add <key>
    info <key>
    ls [prefix]

get downloads the bundle for a key into <key>.bundle. export downloads it
and cuts it into PartN_<key>.bundle files. add asks the server to populate
a key from its origins.
`
)

// main program

func main() {

	// parse command line

	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	conn := &clientapi.Connection{
		HostURL: "http://" + *server,
		Token:   *token,
	}

	var err error
	switch args[0] {
	case "get":
		if len(args) != 2 {
			fmt.Println("Usage: dvault <flags> get <key>")
			os.Exit(1)
		}
		err = doGet(conn, args[1])
	case "export":
		if len(args) != 2 {
			fmt.Println("Usage: dvault <flags> export <key>")
			os.Exit(1)
		}
		err = doExport(context.Background(), conn, args[1])
	case "add":
		if len(args) != 2 {
			fmt.Println("Usage: dvault <flags> add <key>")
			os.Exit(1)
		}
		err = doAdd(conn, args[1])
	case "info":
		if len(args) != 2 {
			fmt.Println("Usage: dvault <flags> info <key>")
			os.Exit(1)
		}
		err = doInfo(conn, args[1])
	case "ls":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		err = doLs(conn, prefix)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}
