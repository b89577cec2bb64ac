package coordinator

import "regbroker/internal/domain"

// synthesizeDefaultSchema builds the minimal OpenAPI 3.1 document used when
// neither the module callback nor any prior archive/persistence source has
// a config schema on offer (spec §4.1 step 4). The query cascade (spec
// §4.7 tier 4) uses the same generator via domain.SynthesizeDefaultConfigSchema
// so both call sites stay byte-for-byte identical.
func synthesizeDefaultSchema(name string) string {
	return domain.SynthesizeDefaultConfigSchema(name)
}
