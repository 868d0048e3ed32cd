// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/hookd/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

var durationType = reflect.TypeOf(time.Duration(0))

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == durationType {
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration, e.g. 500ms or 30s",
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "hookd configuration"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	enc := json.NewEncoder(cli.stdout())
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
