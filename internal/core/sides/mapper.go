// Package sides mapeia rótulos de resultado para os lados canônicos A/B.
//
// A tabela é constante e versionada. Alterar um par reinterpreta
// silenciosamente atribuições históricas, então qualquer mudança exige
// incrementar MappingVersion.
package sides

import (
	"fmt"
	"strings"

	"github.com/radieske/surebet-ledger/internal/core/domain"
)

const MappingVersion = 1

const (
	Over  domain.Outcome = "OVER"
	Under domain.Outcome = "UNDER"
	Yes   domain.Outcome = "YES"
	No    domain.Outcome = "NO"
	Home  domain.Outcome = "HOME"
	Away  domain.Outcome = "AWAY"
)

// pares de dois caminhos: o primeiro membro é o lado A
var pairs = [...][2]domain.Outcome{
	{Over, Under},
	{Yes, No},
	{Home, Away},
}

var (
	sideTable = map[domain.Outcome]domain.Side{}
	opposites = map[domain.Outcome]domain.Outcome{}
)

func init() {
	for _, p := range pairs {
		sideTable[p[0]] = domain.SideA
		sideTable[p[1]] = domain.SideB
		opposites[p[0]] = p[1]
		opposites[p[1]] = p[0]
	}
}

// Normalize padroniza o rótulo vindo do feed
func Normalize(label domain.Outcome) domain.Outcome {
	return domain.Outcome(strings.ToUpper(strings.TrimSpace(string(label))))
}

// SideOf retorna o lado canônico do rótulo
func SideOf(label domain.Outcome) (domain.Side, error) {
	s, ok := sideTable[Normalize(label)]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownOutcome, label)
	}
	return s, nil
}

// OppositeLabels retorna os rótulos complementares ao informado
func OppositeLabels(label domain.Outcome) ([]domain.Outcome, error) {
	o, ok := opposites[Normalize(label)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownOutcome, label)
	}
	return []domain.Outcome{o}, nil
}

func AreOpposite(a, b domain.Outcome) bool {
	o, ok := opposites[Normalize(a)]
	return ok && o == Normalize(b)
}

// Labels lista todos os rótulos conhecidos, na ordem da tabela
func Labels() []domain.Outcome {
	out := make([]domain.Outcome, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, p[0], p[1])
	}
	return out
}
