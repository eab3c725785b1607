package main

import "github.com/rasnes/covid-duckdb-etl/cmd"

func main() {
	cmd.Execute()
}
