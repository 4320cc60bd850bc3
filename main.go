package main

import (
	"github.com/qq148376839/video-parser-service/cmd"
)

func main() {
	cmd.Execute()
}
