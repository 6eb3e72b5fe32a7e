package registry

import "github.com/cidadao-ai/vigia/pkg/models"

// BuiltinSources is the default source catalog: the federal transparency
// portal and its API, CKAN open-data portals, state transparency portals
// and the state audit courts (TCEs). User config may extend or override
// it via sources.yaml.
func BuiltinSources() []Source {
	return []Source{
		{
			ID:     "portal-transparencia",
			Name:   "Portal da Transparência (Controladoria-Geral da União)",
			Family: FamilyFederal,
			Capabilities: []models.Capability{
				models.CapabilityContracts, models.CapabilityServants,
				models.CapabilityExpenses, models.CapabilityBiddings,
				models.CapabilitySanctions, models.CapabilityTransfers,
			},
			BaseEndpoint: "https://api.portaldatransparencia.gov.br/api-de-dados",
			Priority:     1,
			RequiresKey:  true,
		},
		{
			ID:           "compras-gov",
			Name:         "Compras.gov.br",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityBiddings},
			BaseEndpoint: "https://compras.dados.gov.br",
			Priority:     2,
		},
		{
			ID:           "pncp",
			Name:         "Portal Nacional de Contratações Públicas",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityBiddings},
			BaseEndpoint: "https://pncp.gov.br/api/consulta",
			Priority:     2,
		},
		{
			ID:           "siconfi",
			Name:         "SICONFI (Tesouro Nacional)",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilityExpenses, models.CapabilityTransfers},
			BaseEndpoint: "https://apidatalake.tesouro.gov.br/ords/siconfi/tt",
			Priority:     3,
		},
		{
			ID:           "dados-gov",
			Name:         "dados.gov.br (CKAN)",
			Family:       FamilyPortal,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityExpenses, models.CapabilityGeographic},
			BaseEndpoint: "https://dados.gov.br/api/3",
			Priority:     4,
		},
		{
			ID:           "datasus",
			Name:         "DATASUS (Ministério da Saúde)",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilityHealthData, models.CapabilityExpenses},
			BaseEndpoint: "https://apidadosabertos.saude.gov.br",
			Priority:     2,
		},
		{
			ID:           "inep",
			Name:         "INEP Dados Abertos",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilityEducationData},
			BaseEndpoint: "https://dadosabertos.inep.gov.br/api",
			Priority:     2,
		},
		{
			ID:           "ibge",
			Name:         "IBGE APIs",
			Family:       FamilyPortal,
			Capabilities: []models.Capability{models.CapabilityGeographic},
			BaseEndpoint: "https://servicodados.ibge.gov.br/api/v1",
			Priority:     1,
		},
		{
			ID:           "transparencia-sp",
			Name:         "Portal da Transparência — São Paulo",
			Family:       FamilyState,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityExpenses, models.CapabilityServants},
			BaseEndpoint: "https://www.transparencia.sp.gov.br/api",
			Priority:     5,
			Region:       "SP",
		},
		{
			ID:           "transparencia-mg",
			Name:         "Portal da Transparência — Minas Gerais",
			Family:       FamilyState,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityExpenses},
			BaseEndpoint: "https://www.transparencia.mg.gov.br/api",
			Priority:     5,
			Region:       "MG",
		},
		{
			ID:           "transparencia-rj",
			Name:         "Portal da Transparência — Rio de Janeiro",
			Family:       FamilyState,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityExpenses},
			BaseEndpoint: "https://www.transparencia.rj.gov.br/api",
			Priority:     5,
			Region:       "RJ",
		},
		{
			ID:           "transparencia-rs",
			Name:         "Portal da Transparência — Rio Grande do Sul",
			Family:       FamilyState,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityExpenses},
			BaseEndpoint: "https://www.transparencia.rs.gov.br/api",
			Priority:     6,
			Region:       "RS",
		},
		{
			ID:           "tce-sp",
			Name:         "Tribunal de Contas do Estado de São Paulo",
			Family:       FamilyTCE,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityBiddings},
			BaseEndpoint: "https://transparencia.tce.sp.gov.br/api",
			Priority:     7,
			Region:       "SP",
		},
		{
			ID:           "tce-mg",
			Name:         "Tribunal de Contas do Estado de Minas Gerais",
			Family:       FamilyTCE,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilityBiddings},
			BaseEndpoint: "https://dadosabertos.tce.mg.gov.br/api",
			Priority:     7,
			Region:       "MG",
		},
		{
			ID:           "tcu",
			Name:         "Tribunal de Contas da União",
			Family:       FamilyTCE,
			Capabilities: []models.Capability{models.CapabilityContracts, models.CapabilitySanctions},
			BaseEndpoint: "https://contas.tcu.gov.br/ords/api",
			Priority:     3,
		},
		{
			ID:           "ceis",
			Name:         "Cadastro de Empresas Inidôneas e Suspensas",
			Family:       FamilyFederal,
			Capabilities: []models.Capability{models.CapabilitySanctions},
			BaseEndpoint: "https://api.portaldatransparencia.gov.br/api-de-dados/ceis",
			Priority:     1,
			RequiresKey:  true,
		},
	}
}
