/*
Copyright 2023 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// mysqlwire is a small command line client for poking at a server:
// ping it, run a query, or exercise the compressed protocol. It exists
// mostly as a manual test bed for the library.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/golang/glog"
	"github.com/spf13/pflag"

	"vitess.io/mysqlwire/go/mysql"
)

var (
	host        = pflag.String("host", "127.0.0.1", "server host")
	port        = pflag.Int("port", 3306, "server port")
	unixSocket  = pflag.String("unix_socket", "", "connect through this unix socket instead of tcp")
	user        = pflag.String("user", "root", "user name")
	password    = pflag.String("password", "", "password")
	database    = pflag.String("database", "", "default database")
	charset     = pflag.String("charset", "utf8mb4", "connection character set")
	compression = pflag.String("compression", "", "compression algorithm: zlib, zstd or empty")
	timeout     = pflag.Duration("timeout", 30*time.Second, "connect timeout")
	maxRows     = pflag.Int("max_rows", 10000, "maximum rows to fetch for a query")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %v [flags] ping|query <sql>\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	params := &mysql.ConnParams{
		Host:                 *host,
		Port:                 *port,
		UnixSocket:           *unixSocket,
		Uname:                *user,
		Pass:                 *password,
		DbName:               *database,
		Charset:              *charset,
		CompressionAlgorithm: *compression,
		ConnectTimeout:       *timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := mysql.Connect(ctx, params)
	if err != nil {
		log.Exitf("connect to %v failed: %v", params.Host, err)
	}
	defer conn.Close()

	switch args[0] {
	case "ping":
		start := time.Now()
		if err := conn.Ping(); err != nil {
			log.Exitf("ping failed: %v", err)
		}
		fmt.Printf("%v (%v) is alive, round trip %v\n", conn.ServerVersion, conn.ConnectionID, time.Since(start))

	case "query":
		if len(args) != 2 {
			log.Exit("query needs exactly one sql argument")
		}
		result, err := conn.ExecuteFetch(args[1], *maxRows, true)
		if err != nil {
			log.Exitf("query failed: %v", err)
		}
		printResult(result)

	default:
		pflag.Usage()
		os.Exit(1)
	}
}

func printResult(result *mysql.Result) {
	if len(result.Fields) == 0 {
		fmt.Printf("OK, %v rows affected\n", result.RowsAffected)
		return
	}
	for i, f := range result.Fields {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(f.Name)
	}
	fmt.Println()
	for _, row := range result.Rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Print("\t")
			}
			if cell == nil {
				fmt.Print("NULL")
			} else {
				fmt.Print(string(cell))
			}
		}
		fmt.Println()
	}
	fmt.Printf("%v rows\n", len(result.Rows))
}
