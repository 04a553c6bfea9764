package main

import (
	"fmt"

	"example.com/sample/pkg/calc"
)

func main() {
	fmt.Println(calc.Add(2, 3))
}
