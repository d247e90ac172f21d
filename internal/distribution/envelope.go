package distribution

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	nfeNamespace  = "http://www.portalfiscal.inf.br/nfe"
	wsdlNamespace = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe"
	soapAction    = wsdlNamespace + "/nfeDistDFeInteresse"
	layoutVersion = "1.01"
)

// distDFeInt is the query message carried inside the SOAP body
type distDFeInt struct {
	XMLName  xml.Name `xml:"distDFeInt"`
	Xmlns    string   `xml:"xmlns,attr"`
	Versao   string   `xml:"versao,attr"`
	TpAmb    string   `xml:"tpAmb"`
	CUFAutor string   `xml:"cUFAutor"`
	CNPJ     string   `xml:"CNPJ,omitempty"`
	CPF      string   `xml:"CPF,omitempty"`
	DistNSU  *distNSU `xml:"distNSU,omitempty"`
	ConsNSU  *consNSU `xml:"consNSU,omitempty"`
}

type distNSU struct {
	UltNSU string `xml:"ultNSU"`
}

type consNSU struct {
	NSU string `xml:"NSU"`
}

// buildEnvelope wraps the query message in a SOAP 1.2 envelope
func buildEnvelope(msg distDFeInt) ([]byte, error) {
	msg.Xmlns = nfeNamespace
	msg.Versao = layoutVersion

	body, err := xml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal distDFeInt: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">`)
	buf.WriteString(`<soap12:Body><nfeDistDFeInteresse xmlns="` + wsdlNamespace + `"><nfeDadosMsg>`)
	buf.Write(body)
	buf.WriteString(`</nfeDadosMsg></nfeDistDFeInteresse></soap12:Body></soap12:Envelope>`)
	return buf.Bytes(), nil
}

// Response envelope. Tags carry no namespace so that any prefix matches.
type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault    *soapFault `xml:"Fault"`
		Response struct {
			Result struct {
				Ret *retDistDFeInt `xml:"retDistDFeInt"`
			} `xml:"nfeDistDFeInteresseResult"`
		} `xml:"nfeDistDFeInteresseResponse"`
	} `xml:"Body"`
}

type soapFault struct {
	Code struct {
		Value string `xml:"Value"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
	// SOAP 1.1 layout, still returned by some gateways
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

func (f *soapFault) code() string {
	if f.Code.Value != "" {
		return f.Code.Value
	}
	return f.FaultCode
}

func (f *soapFault) reason() string {
	if f.Reason.Text != "" {
		return f.Reason.Text
	}
	return f.FaultString
}

type retDistDFeInt struct {
	TpAmb    string `xml:"tpAmb"`
	VerAplic string `xml:"verAplic"`
	CStat    string `xml:"cStat"`
	XMotivo  string `xml:"xMotivo"`
	DhResp   string `xml:"dhResp"`
	UltNSU   string `xml:"ultNSU"`
	MaxNSU   string `xml:"maxNSU"`
	Lote     struct {
		Docs []docZip `xml:"docZip"`
	} `xml:"loteDistDFeInt"`
}

type docZip struct {
	NSU     string `xml:"NSU,attr"`
	Schema  string `xml:"schema,attr"`
	Content string `xml:",chardata"`
}
