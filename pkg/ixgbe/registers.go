package ixgbe

// Register offsets and bits, taken from the 82599 datasheet section 8
// (the per-queue ones are given as functions of the queue index, matching
// the stride the hardware uses between queues).

const (
	regCTRL    = 0x00000
	regSTATUS  = 0x00008
	regCTRLEXT = 0x00018
	regEIMC    = 0x00888
	regEEC     = 0x10010
	regRDRXCTL = 0x02F00
	regRXCTRL  = 0x03000
	regHLREG0  = 0x04240
	regFCTRL   = 0x05080
	regAUTOC   = 0x042A0
	regLINKS   = 0x042A4
	regDTXMXSZRQ = 0x08100
	regRTTDCS  = 0x04900
	regDMATXCTL = 0x04A80

	regGPRC  = 0x04074
	regGPTC  = 0x04080
	regGORCL = 0x04088
	regGORCH = 0x0408C
	regGOTCL = 0x04090
	regGOTCH = 0x04094

	ctrlRSTMask = (1 << 3) | (1 << 26)

	eecARD = 0x00000200

	rdrxctlDMAIDONE = 0x00000008

	rxctrlRXEN = 0x00000001

	hlreg0RXCRCSTRP = 0x00000002
	hlreg0TXCRCEN   = 0x00000001
	hlreg0TXPADEN   = 0x00000400

	fctrlBAM = 0x00000400
	fctrlMPE = 0x00000100
	fctrlUPE = 0x00000200

	ctrlExtNSDis = 0x00010000

	autocLMSMask      = 0x0000E000
	autocLMS10GSerial = 0x00006000
	autoc10GPMAPMDMask = 0x00000180
	autoc10GXAUI      = 0x00000000
	autocANRestart    = 0x00001000

	linksUp          = 0x40000000
	linksSpeedMask   = 0x30000000
	linksSpeed100    = 0x10000000
	linksSpeed1G     = 0x20000000
	linksSpeed10G    = 0x30000000

	rttdcsARBDIS = 0x00000040

	dmatxctlTE = 0x1

	rxpbsize128KB = 0x00020000
	txpbsize40KB  = 0x0000A000
)

func regRXPBSIZE(i int) int { return 0x03C00 + i*4 }
func regTXPBSIZE(i int) int { return 0x0CC00 + i*4 }
func regDCARXCTRL(i int) int { return 0x02200 + i*4 }
func regSRRCTL(i int) int {
	if i < 64 {
		return 0x01014 + i*0x40
	}
	return 0x0D014 + (i-64)*0x40
}

const (
	srrctlDescTypeMask   = 0x0E000000
	srrctlDescTypeAdvOne = 0x02000000
	srrctlDropEn         = 0x10000000
)

func regRDBAL(i int) int  { return 0x01000 + i*0x40 }
func regRDBAH(i int) int  { return 0x01004 + i*0x40 }
func regRDLEN(i int) int  { return 0x01008 + i*0x40 }
func regRDH(i int) int    { return 0x01010 + i*0x40 }
func regRDT(i int) int    { return 0x01018 + i*0x40 }
func regRXDCTL(i int) int { return 0x01028 + i*0x40 }

const rxdctlEnable = 0x02000000

func regTDBAL(i int) int  { return 0x06000 + i*0x40 }
func regTDBAH(i int) int  { return 0x06004 + i*0x40 }
func regTDLEN(i int) int  { return 0x06008 + i*0x40 }
func regTDH(i int) int    { return 0x06010 + i*0x40 }
func regTDT(i int) int    { return 0x06018 + i*0x40 }
func regTXDCTL(i int) int { return 0x06028 + i*0x40 }

const txdctlEnable = 0x02000000

// Advanced transmit descriptor command flags (cmd_type_len field).
const (
	advTxdDCmdEOP  = 0x01000000
	advTxdDCmdRS   = 0x08000000
	advTxdDCmdIFCS = 0x02000000
	advTxdDCmdDEXT = 0x20000000
	advTxdDTypData = 0x00300000

	advTxdPayloadLenShift = 14

	advTxdStatDD = 0x00000001

	rxdadvStatDD  = 0x01
	rxdadvStatEOP = 0x02
)

// txCmdTypeFlags is the constant cmd_type_len OR-mask used for every
// transmit descriptor: one buffer, CRC offload, advanced data descriptor.
const txCmdTypeFlags = advTxdDCmdEOP | advTxdDCmdRS | advTxdDCmdIFCS | advTxdDCmdDEXT | advTxdDTypData
