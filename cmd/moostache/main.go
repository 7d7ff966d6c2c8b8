package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"

	"github.com/pretzelhammer/moostache"
)

var rootCmd = &cobra.Command{
	Use: "moostache [data] template",
	Example: `  $ moostache data.yml page
  $ cat data.yml | moostache page
  $ moostache --templates-dir ./views --extension .stache data.yml user/profile
  $ moostache --query posts.0 data.json post`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		err := run(cmd, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}
var templatesDir string
var templatesExt string
var cacheSize int
var query string

func main() {
	defaults := moostache.DefaultLoaderConfig()
	rootCmd.Flags().StringVar(&templatesDir, "templates-dir", defaults.TemplatesDirectory, "directory holding template files")
	rootCmd.Flags().StringVar(&templatesExt, "extension", defaults.TemplatesExtension, "extension of template files")
	rootCmd.Flags().IntVar(&cacheSize, "cache-size", defaults.CacheSize, "max number of compiled templates kept in memory")
	rootCmd.Flags().StringVar(&query, "query", "", "gjson path selecting a sub-tree of the data to render against")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var data interface{}
	var templateName string
	if len(args) == 1 {
		var err error
		data, err = parseDataFromStdIn()
		if err != nil {
			return err
		}
		templateName = args[0]
	} else {
		var err error
		data, err = parseDataFromFile(args[0])
		if err != nil {
			return err
		}
		templateName = args[1]
	}

	if query != "" {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		data = gjson.GetBytes(encoded, query).Value()
	}

	loader, err := moostache.NewFileLoader(moostache.LoaderConfig{
		TemplatesDirectory: templatesDir,
		TemplatesExtension: templatesExt,
		CacheSize:          cacheSize,
	})
	if err != nil {
		return err
	}
	output, err := moostache.RenderSerializable(loader, templateName, data)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}

func parseDataFromStdIn() (interface{}, error) {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, err
	}
	return parseData(b)
}

func parseDataFromFile(filePath string) (interface{}, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parseData(b)
}

func parseData(b []byte) (interface{}, error) {
	var data interface{}
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, err
	}
	return stringifyKeys(data), nil
}

// yaml.v2 decodes mappings with interface{} keys; the engine's value
// tree needs string keys.
func stringifyKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))
		for key, value := range v {
			m[fmt.Sprint(key)] = stringifyKeys(value)
		}
		return m
	case []interface{}:
		for i, value := range v {
			v[i] = stringifyKeys(value)
		}
		return v
	default:
		return v
	}
}
