// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parser

// Provider ids of the built-in portal templates.
const (
	ProviderEasyBroker  = "easybroker"
	ProviderInmuebles24 = "inmuebles24"
	ProviderGeneric     = "generic"
)

// Templates returns the built-in portal templates.
func Templates() []Template {
	return []Template{
		{
			Provider:       ProviderEasyBroker,
			Source:         "EasyBroker",
			Domains:        []string{"easybroker.com"},
			NameMarkers:    []string{"Hay una nueva consulta de"},
			NameLabels:     []string{"Nombre:"},
			EmailLabels:    []string{"Correo electrónico:", "Correo:", "Email:"},
			PhoneLabels:    []string{"Móvil:", "Teléfono:", "Celular:"},
			PropertyLabels: []string{"Propiedades:", "Propiedad:"},
			MessageLabels:  []string{"Mensaje:"},
			SubjectPattern: `(?i)^(?:(?:re|fwd?):\s*)*nueva consulta (?:sobre|para|en)\s+(?:la propiedad\s+)?(.+)$`,
		},
		{
			Provider:         ProviderInmuebles24,
			Source:           "Inmuebles24",
			Domains:          []string{"inmuebles24.com", "navent.com"},
			NameMarkers:      []string{"Te contactó", "Nuevo mensaje de"},
			NameLabels:       []string{"Nombre:"},
			EmailLabels:      []string{"Email:", "E-mail:", "Correo:"},
			PhoneLabels:      []string{"Teléfono:", "Tel:", "Celular:"},
			PropertyLabels:   []string{"Aviso:", "Propiedad:"},
			MessageLabels:    []string{"Mensaje:", "Comentario:"},
			SubjectDelimiter: " - ",
		},
	}
}
