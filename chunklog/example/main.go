package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gofish2020/easyqueue/chunklog"
	"github.com/gofish2020/easyqueue/utils"
)

func main() {

	option := chunklog.DefaultOptions
	option.Dir = utils.DataDir()
	option.ChunkSize = 16 * chunklog.B // 设置chunk大小16B
	option.CacheRecords = 0

	log, err := chunklog.Open(option)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer log.Close()

	start := log.Head()
	for _, payload := range []string{"a", "bc", "d"} {
		head, err := log.Append(bytes.NewReader([]byte(payload)))
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println("head is now", head)
	}

	reader := log.NewReader(start)
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Println(err)
			return
		}
		data, err := rec.Bytes()
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("lsn %d -> %q (next %d)\n", rec.LSN, data, rec.Next)
	}
}
